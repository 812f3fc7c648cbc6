// Package monitor captures per-request logs for debugging: full bodies
// go to sqlite, the newest hundred stay in memory for the dashboard.
// Distinct from the event log, which stores structured incidents.
package monitor

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pysugar/antigravity-proxy/internal/db/models"
)

const (
	// MaxRequestBodySize caps stored request bodies at 1 MiB.
	MaxRequestBodySize = 1024 * 1024
	// MaxResponseBodySize caps stored response bodies at 512 KiB.
	MaxResponseBodySize = 512 * 1024
	// MaxMemoryLogs is the in-memory ring size.
	MaxMemoryLogs = 100
)

// Monitor stores request logs. Logging defaults to off; bodies are
// only captured when an operator turns it on.
type Monitor struct {
	db      *gorm.DB
	enabled atomic.Bool

	logsMu     sync.RWMutex
	recentLogs []models.RequestLog

	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
}

// New builds a monitor over an opened database.
func New(gdb *gorm.DB) *Monitor {
	m := &Monitor{
		db:         gdb,
		recentLogs: make([]models.RequestLog, 0, MaxMemoryLogs),
	}
	m.loadStats()
	return m
}

// SetEnabled turns body capture on or off.
func (m *Monitor) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
	if enabled {
		log.Printf("[Monitor] logging enabled")
	} else {
		log.Printf("[Monitor] logging disabled")
	}
}

// IsEnabled reports whether body capture is on.
func (m *Monitor) IsEnabled() bool {
	return m.enabled.Load()
}

// Log stores one request. The database write is asynchronous so the
// request path never blocks on sqlite.
func (m *Monitor) Log(entry models.RequestLog) {
	if !m.IsEnabled() {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if len(entry.RequestBody) > MaxRequestBodySize {
		entry.RequestBody = entry.RequestBody[:MaxRequestBodySize] + "...[truncated]"
	}
	if len(entry.ResponseBody) > MaxResponseBodySize {
		entry.ResponseBody = entry.ResponseBody[:MaxResponseBodySize] + "...[truncated]"
	}

	m.totalRequests.Add(1)
	if entry.Status >= 200 && entry.Status < 400 {
		m.successCount.Add(1)
	} else {
		m.errorCount.Add(1)
	}

	m.logsMu.Lock()
	m.recentLogs = append([]models.RequestLog{entry}, m.recentLogs...)
	if len(m.recentLogs) > MaxMemoryLogs {
		m.recentLogs = m.recentLogs[:MaxMemoryLogs]
	}
	m.logsMu.Unlock()

	go func(e models.RequestLog) {
		if err := m.db.Create(&e).Error; err != nil {
			log.Printf("⚠️ [Monitor] save log: %v", err)
		}
	}(entry)
}

// Recent returns the newest logs, optionally restricted to the last
// sinceMinutes. Falls back to the memory ring when the db read fails.
func (m *Monitor) Recent(limit, sinceMinutes int) []models.RequestLog {
	if limit <= 0 {
		limit = MaxMemoryLogs
	}

	var logs []models.RequestLog
	query := m.db.Order("timestamp DESC").Limit(limit)
	if sinceMinutes > 0 {
		since := time.Now().Add(-time.Duration(sinceMinutes) * time.Minute).UnixMilli()
		query = query.Where("timestamp >= ?", since)
	}
	if err := query.Find(&logs).Error; err != nil {
		log.Printf("⚠️ [Monitor] read logs: %v", err)
		m.logsMu.RLock()
		defer m.logsMu.RUnlock()
		if limit > len(m.recentLogs) {
			limit = len(m.recentLogs)
		}
		return append([]models.RequestLog{}, m.recentLogs[:limit]...)
	}
	return logs
}

// Page returns one page of history with an optional search over model,
// path, account, and error.
func (m *Monitor) Page(page, pageSize int, search string) ([]models.RequestLog, int64) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	var logs []models.RequestLog
	var total int64

	query := m.db.Model(&models.RequestLog{})
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where("model LIKE ? OR path LIKE ? OR account_email LIKE ? OR error LIKE ?",
			pattern, pattern, pattern, pattern)
	}
	query.Count(&total)

	offset := (page - 1) * pageSize
	if err := query.Order("timestamp DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		log.Printf("⚠️ [Monitor] page logs: %v", err)
		return nil, 0
	}
	return logs, total
}

// Stats reports aggregated counts.
func (m *Monitor) Stats() models.RequestLogStats {
	return models.RequestLogStats{
		TotalRequests: m.totalRequests.Load(),
		SuccessCount:  m.successCount.Load(),
		ErrorCount:    m.errorCount.Load(),
	}
}

// Clear drops everything from memory and the database.
func (m *Monitor) Clear() error {
	m.logsMu.Lock()
	m.recentLogs = m.recentLogs[:0]
	m.logsMu.Unlock()

	m.totalRequests.Store(0)
	m.successCount.Store(0)
	m.errorCount.Store(0)

	if err := m.db.Exec("DELETE FROM request_logs").Error; err != nil {
		return err
	}
	log.Printf("[Monitor] all logs cleared")
	return nil
}

func (m *Monitor) loadStats() {
	var total, success, errors int64
	m.db.Model(&models.RequestLog{}).Count(&total)
	m.db.Model(&models.RequestLog{}).Where("status >= 200 AND status < 400").Count(&success)
	m.db.Model(&models.RequestLog{}).Where("status < 200 OR status >= 400").Count(&errors)

	m.totalRequests.Store(total)
	m.successCount.Store(success)
	m.errorCount.Store(errors)
	log.Printf("📦 [Monitor] loaded stats: total=%d success=%d errors=%d", total, success, errors)
}
