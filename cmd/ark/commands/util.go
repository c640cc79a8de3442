package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/config"
)

// InitLogger configures the process-wide logger from the loaded config.
func InitLogger(cfg *config.Config) error {
	err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// GetDefaultStateDir returns the per-user state directory holding the pid
// and log files. Uses XDG_STATE_HOME if set, otherwise ~/.local/state.
func GetDefaultStateDir() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "ark")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}

	return filepath.Join(home, ".local", "state", "ark")
}

// GetDefaultPidFile returns where the daemonized engine records its pid.
func GetDefaultPidFile() string {
	return filepath.Join(GetDefaultStateDir(), "ark.pid")
}

// GetDefaultLogFile returns where the daemonized engine writes its log.
func GetDefaultLogFile() string {
	return filepath.Join(GetDefaultStateDir(), "ark.log")
}

// readPidFile reads and parses the engine pid recorded at path. ReadFile
// errors pass through unwrapped so callers can test os.IsNotExist.
func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %s", raw)
	}
	return pid, nil
}

// getConfigSource names where configuration was loaded from, for display.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
