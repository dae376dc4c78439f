package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/leonardcser/api-relay/internal/cache"
	"github.com/leonardcser/api-relay/internal/config"
	"github.com/leonardcser/api-relay/internal/connectivity"
	"github.com/leonardcser/api-relay/internal/kv"
	"github.com/leonardcser/api-relay/internal/logger"
	"github.com/leonardcser/api-relay/internal/metrics"
	"github.com/leonardcser/api-relay/internal/queue"
	"github.com/leonardcser/api-relay/internal/request"
	"github.com/leonardcser/api-relay/internal/tools"
)

const kvDaemonBinary = "api-relay-kv"

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting API relay")

	cfg, err := config.Load("")
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		panic(err)
	}

	store, closeStore, err := openKV(cfg)
	if err != nil {
		logger.Errorf("Failed to open key-value store: %v", err)
		panic(err)
	}
	defer closeStore()

	monitor := connectivity.NewMonitor()
	check, err := connectivity.DialCheck(cfg.PrimaryURL, cfg.SecondaryURL)
	if err != nil {
		logger.Errorf("Failed to build connectivity check: %v", err)
		panic(err)
	}
	prober := connectivity.NewProber(monitor, check, 0)
	if err := prober.Start(cfg.ProbeInterval); err != nil {
		logger.Errorf("Failed to start connectivity prober: %v", err)
		panic(err)
	}
	defer prober.Stop()
	logger.Infof("Connectivity monitor probing %s and %s every %s", cfg.PrimaryURL, cfg.SecondaryURL, cfg.ProbeInterval)

	cacheStore := cache.NewStore(store, cache.Options{})
	offline := queue.New(store, queue.Options{
		MaxAttempts: cfg.QueueMaxAttempts,
		Online:      monitor.IsConnected,
		Limiter:     rate.NewLimiter(rate.Limit(cfg.QueueRate), 1),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer := metrics.NewObserver(reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer shutdown(srv)
	}

	device, err := deviceInfo(cfg, store)
	if err != nil {
		logger.Errorf("Failed to resolve device id: %v", err)
		panic(err)
	}

	orch, err := request.New(request.Config{
		PrimaryURL:   cfg.PrimaryURL,
		SecondaryURL: cfg.SecondaryURL,
		Timeout:      cfg.Timeout,
		Retry: request.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryDelay,
		},
		DefaultTTL:    cfg.CacheTTL,
		SchemaVersion: cfg.CacheVersion,
		Device:        device,
		Tokens:        request.StaticToken(cfg.Token),
		OnUnauthorized: func(context.Context) {
			logger.Warnf("Backend rejected credentials, clearing %s cache", cache.CategoryUserData)
			if err := cacheStore.ClearCategory(cache.CategoryUserData); err != nil {
				logger.Errorf("Failed to clear %s cache: %v", cache.CategoryUserData, err)
			}
		},
		Observer: observer,
	}, monitor, cacheStore, offline)
	if err != nil {
		logger.Errorf("Failed to create request orchestrator: %v", err)
		panic(err)
	}
	defer orch.Close()

	if err := offline.StartPeriodic(cfg.QueueInterval); err != nil {
		logger.Errorf("Failed to schedule queue drain: %v", err)
		panic(err)
	}
	defer offline.Stop()
	logger.Infof("Initialized request orchestrator for %s (fallback %s)", cfg.PrimaryURL, cfg.SecondaryURL)

	s := server.NewMCPServer(
		"API Relay",
		cfg.AppVersion,
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)
	logger.Infof("Created MCP server instance")

	toolRequest := mcp.NewTool("api-request",
		mcp.WithDescription(multiline(
			"Sends a request to the backend API through the resilient request layer",
			"\nFunctionality:",
			"- Tries the primary backend, then the secondary, retrying transient failures",
			"- Serves GET responses from a local cache while they are fresh",
			"- Falls back to stale cached data when the backend cannot be reached",
			"- Queues POST, PUT, PATCH and DELETE requests while offline and sends them on reconnect",
			"\nUsage notes:",
			"- The endpoint is relative to the configured base URL (e.g. users/42)",
			"- The body must be a JSON document",
			"- A queued request is reported with its queue id rather than a response",
		)),
		mcp.WithString("endpoint", mcp.Required(), mcp.Description("Endpoint path relative to the base URL")),
		mcp.WithString("method", mcp.Description("HTTP method, GET by default")),
		mcp.WithString("body", mcp.Description("JSON request body")),
		mcp.WithString("query", mcp.Description("URL-encoded query parameters, e.g. page=2&limit=10")),
		mcp.WithBoolean("useCache", mcp.Description("Read and write the response cache (default true)")),
		mcp.WithBoolean("retry", mcp.Description("Retry transient failures (default true)")),
		mcp.WithBoolean("offlineSupport", mcp.Description("Queue or serve stale data while offline (default true)")),
		mcp.WithString("priority", mcp.Enum(string(queue.PriorityHigh), string(queue.PriorityNormal), string(queue.PriorityLow)),
			mcp.Description("Drain priority if the request is queued")),
	)
	s.AddTool(toolRequest, tools.APIRequestHandler(orch))
	logger.Infof("Registered api-request tool")

	categories := make([]string, len(cache.Categories))
	for i, c := range cache.Categories {
		categories[i] = string(c)
	}
	toolClear := mcp.NewTool("cache-clear",
		mcp.WithDescription("Clears cached responses for one category, or all of them when no category is given"),
		mcp.WithString("category", mcp.Enum(categories...), mcp.Description("Cache category to clear")),
	)
	s.AddTool(toolClear, tools.CacheClearHandler(cacheStore))
	toolStats := mcp.NewTool("cache-stats",
		mcp.WithDescription("Counts cached responses per category"),
	)
	s.AddTool(toolStats, tools.CacheStatsHandler(cacheStore))
	logger.Infof("Registered cache tools")

	toolQueue := mcp.NewTool("queue-status",
		mcp.WithDescription("Lists requests waiting in the offline queue and the dead letters that exhausted their attempts"),
	)
	s.AddTool(toolQueue, tools.QueueStatusHandler(offline, monitor.IsConnected))
	toolAction := mcp.NewTool("queue-action",
		mcp.WithDescription(multiline(
			"Manages the offline queue",
			"- requeue: move a dead letter back to the queue with its attempts reset",
			"- remove: drop a queued request or dead letter",
			"- drain: send queued requests now",
		)),
		mcp.WithString("action", mcp.Required(), mcp.Enum("requeue", "remove", "drain")),
		mcp.WithString("id", mcp.Description("Queue id, required for requeue and remove")),
	)
	s.AddTool(toolAction, tools.QueueActionHandler(offline))
	logger.Infof("Registered queue tools")

	toolMetrics := mcp.NewTool("request-metrics",
		mcp.WithDescription("Reports request counters and the average network response time"),
	)
	s.AddTool(toolMetrics, tools.RequestMetricsHandler(orch.Metrics))
	logger.Infof("Registered request-metrics tool")

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

func deviceInfo(cfg *config.Config, store kv.KV) (request.DeviceInfo, error) {
	id := cfg.DeviceID
	if id == "" {
		var err error
		if id, err = request.LoadDeviceID(store); err != nil {
			return request.DeviceInfo{}, err
		}
	}
	return request.DeviceInfo{
		DeviceID:   id,
		IPAddress:  request.LocalIP(),
		DeviceType: cfg.DeviceType,
		OSVersion:  cfg.OSVersion,
		AppVersion: cfg.AppVersion,
	}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server error: %v", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// openKV returns the embedded bbolt store when configured, otherwise a client
// of the shared daemon, starting it if needed.
func openKV(cfg *config.Config) (kv.KV, func(), error) {
	if cfg.KVEmbedded {
		_ = os.MkdirAll(filepath.Dir(cfg.KVPath), 0o755)
		store, err := kv.Open(cfg.KVPath, kv.Options{})
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Opened embedded store at %s", cfg.KVPath)
		return store, func() { _ = store.Close() }, nil
	}

	sock := cfg.KVSocket
	logger.Infof("Attempting to connect to kv daemon at %s", sock)
	client, err := connectKV(sock)
	if err != nil {
		logger.Warnf("Failed to connect to kv daemon: %v, attempting to start daemon", err)
		if startErr := startKVDaemon(cfg); startErr != nil {
			logger.Errorf("Failed to start kv daemon: %v", startErr)
		} else {
			logger.Infof("KV daemon started successfully")
		}
		// wait for socket to appear
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if c2, err2 := connectKV(sock); err2 == nil {
				client = c2
				err = nil
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if client == nil {
			return nil, nil, err
		}
	}
	logger.Infof("Successfully connected to kv daemon")
	return client, func() {}, nil
}

func connectKV(sock string) (*kv.Client, error) {
	client := kv.NewClient(sock)
	if err := client.Ping(); err != nil {
		return nil, err
	}
	return client, nil
}

func startKVDaemon(cfg *config.Config) error {
	var candidates []string
	// 1) next to this executable, 2) on PATH, 3) in the working directory
	if exePath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exePath), kvDaemonBinary))
	}
	if path, err := exec.LookPath(kvDaemonBinary); err == nil {
		candidates = append(candidates, path)
	}
	candidates = append(candidates, "./"+kvDaemonBinary)

	for _, bin := range candidates {
		if _, err := os.Stat(bin); err != nil {
			continue
		}
		cmd := exec.Command(bin)
		cmd.Env = append(os.Environ(),
			"RELAY_KV_SOCK="+cfg.KVSocket,
			"RELAY_KV_DB="+cfg.KVPath,
		)
		return cmd.Start()
	}
	return exec.ErrNotFound
}
