// Command agproxy runs the multi-account Anthropic-to-Gemini proxy: an
// Anthropic-compatible messages endpoint in front of a pool of Google
// accounts, with health tracking, an operator event log and a live
// dashboard API.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/auth/google"
	"github.com/pysugar/antigravity-proxy/internal/auth/token"
	"github.com/pysugar/antigravity-proxy/internal/catalog"
	"github.com/pysugar/antigravity-proxy/internal/config"
	"github.com/pysugar/antigravity-proxy/internal/db"
	"github.com/pysugar/antigravity-proxy/internal/events"
	"github.com/pysugar/antigravity-proxy/internal/health"
	"github.com/pysugar/antigravity-proxy/internal/issues"
	"github.com/pysugar/antigravity-proxy/internal/proxy/handlers"
	"github.com/pysugar/antigravity-proxy/internal/proxy/monitor"
	"github.com/pysugar/antigravity-proxy/internal/routing"
	"github.com/pysugar/antigravity-proxy/internal/upstream"
	"github.com/pysugar/antigravity-proxy/internal/version"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "login" {
		runLogin()
		return
	}

	dir, err := configDir()
	if err != nil {
		log.Fatalf("resolve config dir: %v", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Fatalf("create config dir %s: %v", dir, err)
	}

	cfg := config.NewStore(dir)
	recorder := events.NewRecorder(cfg, dir)

	registry := accounts.NewRegistry(dir, recorder.Sink())
	if err := registry.Reload(); err != nil {
		log.Printf("⚠️ [Main] load accounts: %v", err)
	}

	tracker := health.New(cfg, recorder.Sink())
	aggregator := issues.NewAggregator(cfg, dir)
	recorder.Observe(aggregator.Observe)

	router := routing.NewRouter(registry, tracker)

	cat, err := catalog.Load(dir)
	if err != nil {
		log.Fatalf("load model routes: %v", err)
	}

	gdb, err := db.Open(filepath.Join(dir, "requests.db"))
	if err != nil {
		log.Fatalf("open request log db: %v", err)
	}
	mon := monitor.New(gdb)

	tokens := token.NewManager(registry, recorder.Sink())
	upstreamClient := upstream.NewClient()

	stopWatch, err := accounts.Watch(registry)
	if err != nil {
		log.Printf("⚠️ [Main] accounts watcher: %v", err)
		stopWatch = func() {}
	}

	sched := cron.New()
	sched.AddFunc("@every 1m", func() {
		recorder.Prune()
		recorder.SnapshotTick()
		threshold := cfg.Health().CriticalThreshold
		aggregator.Sweep(tracker.LowScorePairs(registry.List(), threshold))
	})
	sched.AddFunc("@every 15m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		tokens.RefreshExpiring(ctx, 30*time.Minute)
	})
	sched.Start()

	mux := handlers.NewRouter(handlers.Deps{
		MessagesDeps: handlers.MessagesDeps{
			Registry: registry,
			Tracker:  tracker,
			Router:   router,
			Catalog:  cat,
			Tokens:   tokens,
			Upstream: upstreamClient,
			Events:   recorder,
			Monitor:  mon,
		},
		Config: cfg,
		Issues: aggregator,
	})

	port := os.Getenv("AGPROXY_PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		log.Printf("[Main] agproxy %s listening on :%s (config %s)", version.Version, port, dir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	recorder.RecordSystem("proxy started", map[string]any{
		"version":  version.Version,
		"accounts": len(registry.List()),
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("[Main] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ [Main] server shutdown: %v", err)
	}

	sched.Stop()
	stopWatch()

	if err := recorder.Snapshot(); err != nil {
		log.Printf("⚠️ [Main] snapshot events: %v", err)
	}
	if err := aggregator.Snapshot(); err != nil {
		log.Printf("⚠️ [Main] snapshot issues: %v", err)
	}
	log.Printf("[Main] bye")
}

// configDir resolves the state directory: AGPROXY_CONFIG_DIR when set,
// ~/.config/antigravity-proxy otherwise.
func configDir() (string, error) {
	if dir := os.Getenv("AGPROXY_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "antigravity-proxy"), nil
}

// runLogin drives the CLI OAuth flow: a temporary loopback server
// receives the redirect while the user finishes consent in a browser.
func runLogin() {
	dir, err := configDir()
	if err != nil {
		log.Fatalf("resolve config dir: %v", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Fatalf("create config dir %s: %v", dir, err)
	}

	cfg := config.NewStore(dir)
	recorder := events.NewRecorder(cfg, dir)
	registry := accounts.NewRegistry(dir, recorder.Sink())
	if err := registry.Reload(); err != nil {
		log.Printf("⚠️ [Login] load accounts: %v", err)
	}

	port, results, cleanup, err := google.StartOAuthCallbackServer(registry)
	if err != nil {
		log.Fatalf("start callback server: %v", err)
	}
	defer cleanup()

	redirectURL := fmt.Sprintf("http://localhost:%d/oauth-callback", port)
	oauthCfg := google.GetOAuthConfig(redirectURL)
	authURL := oauthCfg.AuthCodeURL(google.GetStateToken(),
		oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Println("Open this URL in your browser to add an account:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()

	result := <-results
	if !result.Success {
		log.Fatalf("login failed: %v", result.Error)
	}
	fmt.Printf("Account %s added.\n", result.Email)
}
