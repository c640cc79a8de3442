package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/internal/retry"
	"github.com/voxbiblia/ark/internal/telemetry"
	"github.com/voxbiblia/ark/pkg/api"
	"github.com/voxbiblia/ark/pkg/cache"
	"github.com/voxbiblia/ark/pkg/config"
	"github.com/voxbiblia/ark/pkg/conflict"
	"github.com/voxbiblia/ark/pkg/coordinator"
	"github.com/voxbiblia/ark/pkg/download"
	"github.com/voxbiblia/ark/pkg/library"
	"github.com/voxbiblia/ark/pkg/metrics"
	promm "github.com/voxbiblia/ark/pkg/metrics/prometheus"
	"github.com/voxbiblia/ark/pkg/quota"
	"github.com/voxbiblia/ark/pkg/reachability"
	"github.com/voxbiblia/ark/pkg/store/kv"
	"github.com/voxbiblia/ark/pkg/syncqueue"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ark engine",
	Long: `Start the offline engine and keep it running.

The engine daemonizes unless --foreground is given. Foreground mode suits
debugging and process supervisors like systemd; daemon mode forks a child,
points its output at the log file and returns once the child is up.

Configuration comes from --config when given, otherwise from
$XDG_CONFIG_HOME/ark/config.yaml, with ARK_* environment variables
overriding either.

Examples:
  ark start
  ark start --foreground
  ark start --config /etc/ark/config.yaml
  ARK_LOGGING_LEVEL=DEBUG ark start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Stay attached to the terminal instead of daemonizing")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Where to record the engine PID (default: $XDG_STATE_HOME/ark/ark.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Where the daemon writes its log (default: $XDG_STATE_HOME/ark/ark.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return spawnDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// A signal cancels ctx, and ctx winds down every component.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopObservability, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopObservability()

	fmt.Println("Ark - Offline content cache and sync engine")
	logger.Info("Configuration loaded",
		"source", getConfigSource(GetConfigFile()),
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format)

	// Open the durable stores
	store, err := config.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Store close error", "error", err)
		}
	}()
	logger.Info("Store opened", "path", cfg.Store.Path)

	lib, err := library.Open(cfg.Library.Path)
	if err != nil {
		return fmt.Errorf("failed to open library: %w", err)
	}
	logger.Info("Library opened", "path", cfg.Library.Path)

	// Content cache over the store, gated by the storage budget
	quotaMgr := quota.NewManager(cfg.Cache.MaxBytes.Int64())
	contentCache, err := cache.New(ctx, cache.Config{
		Store:      store,
		Quota:      quotaMgr,
		DefaultTTL: cfg.Cache.DefaultTTL,
		Metrics:    promm.NewCacheMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	logger.Info("Cache opened", "budget", cfg.Cache.MaxBytes.String())

	// Remote backend
	source, err := config.NewContentSource(ctx, cfg)
	if err != nil {
		return err
	}
	syncService, hasSync := config.NewSyncService(cfg)
	logger.Info("Remote backend configured", "kind", cfg.Remote.Kind, "sync", hasSync)

	backoff := retry.Policy{
		BaseDelay:   cfg.Retry.BaseBackoff,
		MaxDelay:    cfg.Retry.BackoffCap,
		Multiplier:  retry.DefaultMultiplier,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Jitter:      cfg.Retry.Jitter,
	}

	// Conflict ties break on the source id, so it must be stable per
	// installation and distinct across devices.
	sourceID, err := installationID(ctx, store)
	if err != nil {
		return err
	}

	// Sync queue: the durable outbox for annotation mutations
	queue, err := syncqueue.New(ctx, syncqueue.Config{
		Store:          store,
		Service:        syncService,
		Library:        lib,
		Resolver:       conflict.NewResolver(sourceID),
		Backoff:        backoff,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		FanOutLimit:    cfg.Sync.FanoutLimit,
		MaxDeadLetters: cfg.Sync.DeadLetterLimit,
		PollInterval:   cfg.Sync.PollInterval,
		Metrics:        promm.NewSyncMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to open sync queue: %w", err)
	}

	// Download manager for explicit offline content
	downloads, err := download.New(ctx, download.Config{
		Store:        store,
		Cache:        contentCache,
		Source:       source,
		Concurrency:  cfg.Download.Concurrency,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		ChunkSize:    cfg.Download.ChunkSize.Int64(),
		Backoff:      backoff,
		PollInterval: cfg.Download.PollInterval,
		Metrics:      promm.NewDownloadMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to open download manager: %w", err)
	}

	// Reachability probing (opt-in)
	monitor, err := config.NewReachabilityMonitor(cfg)
	if err != nil {
		return err
	}
	var reach reachability.Source
	if monitor != nil {
		monitor.Start(ctx)
		defer monitor.Close()
		reach = monitor
		logger.Info("Reachability probing enabled", "url", cfg.Reachability.ProbeURL, "interval", cfg.Reachability.Interval)
	} else {
		logger.Info("Reachability probing disabled, assuming online")
	}

	// Assemble the engine facade
	coord, err := coordinator.New(coordinator.Config{
		Cache:        contentCache,
		Quota:        quotaMgr,
		Library:      lib,
		Queue:        queue,
		Downloads:    downloads,
		Source:       source,
		Reachability: reach,
		StopTimeout:  cfg.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	logger.Info("Engine started",
		"pending_sync", coord.PendingSyncCount(),
		"online", coord.Online())

	// Ops HTTP server, on unless explicitly disabled
	var apiDone chan error
	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, coord)
		apiDone = make(chan error, 1)
		go func() {
			apiDone <- apiServer.Start(ctx)
		}()
		logger.Info("Ops API enabled", "port", cfg.API.Port)
	} else {
		logger.Info("Ops API disabled")
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write pid file: %w", err)
		}
		defer os.Remove(pidFile)
	}

	logger.Info("Engine is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
		stop() // a second interrupt kills the process outright
		logger.Info("Shutdown signal received, winding down")
		if apiDone != nil {
			if err := <-apiDone; err != nil {
				logger.Error("Ops server shutdown error", "error", err)
			}
		}

	case err := <-apiDone:
		// Only reachable with the ops server enabled: receiving on a nil
		// channel blocks forever.
		stop()
		if err != nil {
			logger.Error("Ops server error", "error", err)
			runErr = err
		}
	}

	// Stop background work, then close the cache and library
	if err := coord.Close(); err != nil {
		logger.Error("Engine shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	} else {
		logger.Info("Engine stopped gracefully")
	}

	return runErr
}

// initObservability brings up trace export, profiling and the metrics
// registry per the config, logging what ended up enabled. The returned
// function flushes and stops all of it.
func initObservability(ctx context.Context, cfg *config.Config) (func(), error) {
	flushTraces, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ark",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if telemetry.IsEnabled() {
		logger.Info("Tracing on", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	stopProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "ark",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling on", "endpoint", cfg.Telemetry.Profiling.Endpoint, "types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	// The registry must exist before any component asks for a recorder;
	// the prometheus factories hand out nil recorders until it does.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics registry initialized")
	} else {
		logger.Info("Metrics collection off")
	}

	return func() {
		// The run context is usually cancelled by the time we get here,
		// so flush on a fresh deadline.
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := flushTraces(flushCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
		if err := stopProfiling(); err != nil {
			logger.Error("Profiling shutdown error", "error", err)
		}
	}, nil
}

// installationID returns this installation's identifier, generating and
// persisting one on first run.
func installationID(ctx context.Context, store kv.Store) (string, error) {
	const key = "engine:id"

	data, err := store.Get(ctx, key)
	if err == nil && len(data) > 0 {
		return string(data), nil
	}
	if err != nil && !kv.IsNotFound(err) {
		return "", fmt.Errorf("failed to read installation id: %w", err)
	}

	id := uuid.NewString()
	if err := store.Put(ctx, key, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist installation id: %w", err)
	}
	logger.Info("Installation id created", "id", id)
	return id, nil
}

// spawnDaemon re-executes the binary with --foreground in its own session
// and returns once the child is running.
func spawnDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pid, running := daemonRunning(pidPath); running {
		return fmt.Errorf("ark is already running (PID %d)\nUse 'ark stop' to stop the running instance", pid)
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	childArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		childArgs = append(childArgs, "--config", GetConfigFile())
	}

	// The child gets its own session and owns the log file, so it survives
	// both the parent and the terminal.
	sink, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer sink.Close()

	child := exec.Command(executable, childArgs...)
	child.Stdout = sink
	child.Stderr = sink
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("Ark engine started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  pid file: %s\n", pidPath)
	fmt.Printf("  log file: %s\n", logPath)
	fmt.Println("\nStop it with 'ark stop'; check on it with 'ark status'.")
	return nil
}

// daemonRunning reports whether the process recorded at pidPath is alive.
// Stale and unparseable pid files are removed along the way.
func daemonRunning(pidPath string) (int, bool) {
	pid, err := readPidFile(pidPath)
	if err == nil {
		if process, err := os.FindProcess(pid); err == nil && process.Signal(syscall.Signal(0)) == nil {
			return pid, true
		}
	}
	if !os.IsNotExist(err) {
		_ = os.Remove(pidPath)
	}
	return 0, false
}
