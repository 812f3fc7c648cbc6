package models

// RequestLog is one proxied request as stored for debugging. Bodies
// are truncated before insert.
type RequestLog struct {
	ID            string `gorm:"primaryKey" json:"id"`
	Timestamp     int64  `gorm:"index" json:"timestamp"`
	RequestID     string `gorm:"index" json:"requestId,omitempty"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Status        int    `json:"status"`
	DurationMs    int64  `json:"durationMs"`
	Model         string `gorm:"index" json:"model,omitempty"`
	UpstreamModel string `json:"upstreamModel,omitempty"`
	AccountEmail  string `gorm:"index" json:"accountEmail,omitempty"`
	Error         string `json:"error,omitempty"`
	RequestBody   string `gorm:"type:text" json:"requestBody,omitempty"`
	ResponseBody  string `gorm:"type:text" json:"responseBody,omitempty"`
	InputTokens   int    `json:"inputTokens,omitempty"`
	OutputTokens  int    `json:"outputTokens,omitempty"`
}

// RequestLogStats aggregates the stored log set.
type RequestLogStats struct {
	TotalRequests int64 `json:"totalRequests"`
	SuccessCount  int64 `json:"successCount"`
	ErrorCount    int64 `json:"errorCount"`
}
