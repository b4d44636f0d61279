//cmd/server/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"termgate/internal/server"
	"termgate/internal/session"
	"termgate/internal/upstream"
	"termgate/pkg/config"
	plog "termgate/pkg/log"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
	startTime = time.Now()
)

func main() {
	configPath := flag.String("c", "", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")

	listenAddr := flag.String("l", "", "监听地址")
	upstreamAddr := flag.String("u", "", "上游地址 scheme://host:port")
	wsPath := flag.String("path", "", "WebSocket路径")
	logLevel := flag.String("log", "", "日志级别")

	flag.Parse()

	if *showVersion {
		fmt.Printf("TermGate Server v%s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
		return
	}

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		plog.Fatalf("Load config failed: %v", err)
	}

	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *upstreamAddr != "" {
		cfg.Upstream = *upstreamAddr
	}
	if *wsPath != "" {
		cfg.WSPath = *wsPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		plog.Fatalf("Config validation failed: %v", err)
	}

	plog.SetLevel(cfg.LogLevel)

	app, err := NewApp(cfg)
	if err != nil {
		plog.Fatalf("Init failed: %v", err)
	}

	if err := app.Start(); err != nil {
		plog.Fatalf("Start failed: %v", err)
	}

	printBanner(cfg, app.connector)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	plog.Info("Shutting down...")
	app.Stop()
}

// ==================== 应用装配 ====================

type App struct {
	cfg       *config.ServerConfig
	registry  *session.Registry
	connector *upstream.Connector
	gateway   *server.Server
	httpSrv   *http.Server
}

func NewApp(cfg *config.ServerConfig) (*App, error) {
	connector, err := upstream.NewConnector(cfg)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry()
	return &App{
		cfg:       cfg,
		registry:  registry,
		connector: connector,
		gateway:   server.New(cfg, registry, connector),
	}, nil
}

func (a *App) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.WSPath, a.gateway.HandleWS)
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/stats", a.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:    a.cfg.Listen,
		Handler: mux,
	}

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			plog.Fatalf("HTTP server error: %v", err)
		}
	}()

	return nil
}

func (a *App) Stop() {
	a.httpSrv.SetKeepAlivesEnabled(false)

	a.registry.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		plog.Error("Shutdown error: %v", err)
	}

	plog.Info("Server stopped gracefully")
}

// ==================== 状态接口 ====================

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]interface{}{
		"status":   "healthy",
		"version":  Version,
		"uptime":   time.Since(startTime).String(),
		"sessions": a.registry.Len(),
	}
	_ = json.NewEncoder(w).Encode(response)
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	active, persisted := 0, 0
	for _, s := range a.registry.Snapshot() {
		if s.HasClient() {
			active++
		} else {
			persisted++
		}
	}

	defaults := a.cfg.SessionDefaults()
	response := map[string]interface{}{
		"active_sessions":    active,
		"persisted_sessions": persisted,
		"total_sessions":     active + persisted,
		"defaults": map[string]interface{}{
			"persistence_timeout_ms": defaults.PersistenceTimeout.Milliseconds(),
			"max_buffer_lines":       defaults.MaxBufferLines,
		},
		"upstream": a.connector.Endpoint().Addr(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func printBanner(cfg *config.ServerConfig, c *upstream.Connector) {
	ep := c.Endpoint()
	transport := "TCP"
	if ep.UseTLS {
		transport = "TLS"
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║              TermGate Server v1.0                        ║")
	fmt.Println("║              会话保持 · 断线缓冲 · 透明转发               ║")
	fmt.Println("╠══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  监听: %-49s ║\n", cfg.Listen)
	fmt.Printf("║  路径: %-49s ║\n", cfg.WSPath)
	fmt.Printf("║  上游: %-49s ║\n", ep.Addr()+" ("+transport+")")
	if cfg.UseProxyProtocol {
		fmt.Println("║  真实IP: PROXY协议已启用                                 ║")
	}
	fmt.Println("╠══════════════════════════════════════════════════════════╣")
	fmt.Println("║  健康检查: /health  |  监控指标: /metrics                 ║")
	fmt.Println("║  按 Ctrl+C 停止                                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Println()
}
