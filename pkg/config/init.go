package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfigTemplate is the commented configuration file written by
// `ark init`. It mirrors GetDefaultConfig; keep the two in sync.
const sampleConfigTemplate = `# Ark Configuration File
#
# This file configures the offline content engine. All values can be
# overridden with ARK_-prefixed environment variables, for example:
#   ARK_LOGGING_LEVEL=DEBUG
#   ARK_CACHE_MAX_BYTES=1GiB
#   ARK_REMOTE_BASE_URL=https://api.example.com/v1

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text, json
  format: text
  # Destination: stdout, stderr, or a file path
  output: stdout

# Durable key/value store for cached payloads, download tasks and the
# sync operation log. Must survive restarts.
store:
  path: %s

# Local annotation database (bookmarks, highlights, notes, settings,
# reading progress).
library:
  path: %s

cache:
  # Storage budget for cached content. Least-recently-used entries are
  # evicted when the budget is exceeded; offline downloads are pinned
  # and never evicted for space.
  max_bytes: 512MB
  # Optional TTL for cached entries; 0 means entries do not expire.
  default_ttl: 0s

download:
  # Simultaneous transfers
  concurrency: 3
  # Range-request size for resumable transfers
  chunk_size: 512KiB

sync:
  # How many entities may sync concurrently. Operations within one
  # entity always run in order.
  fanout_limit: 4
  # Operations that exhaust their retries park here for inspection.
  dead_letter_limit: 100

retry:
  # Attempts before a download fails / a sync operation dead-letters
  max_attempts: 5
  # Exponential backoff: base_backoff x 2^attempt, capped, plus jitter
  base_backoff: 500ms
  backoff_cap: 30s
  jitter: 0.2

remote:
  # Backend kind: http (REST content + sync API) or s3 (content packs)
  kind: http
  base_url: https://api.voxbiblia.example/v1
  # Optional bearer token; the host application owns authentication.
  # token: ""
  timeout: 30s
  # s3:
  #   bucket: voxbiblia-content
  #   region: us-east-1
  #   key_prefix: packs/

reachability:
  # Endpoint probed with HEAD requests to detect connectivity. Leave
  # empty to assume the device is always online.
  # probe_url: https://api.voxbiblia.example/v1/ping
  interval: 30s
  timeout: 5s
  threshold: 2

api:
  # Local ops endpoints: /health, /status, /metrics
  enabled: true
  port: 7423

metrics:
  enabled: false

telemetry:
  enabled: false
  # endpoint: localhost:4317

shutdown_timeout: 30s
`

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file. Fails if the file already exists
// unless force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
// Fails if the file already exists unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	dataDir := getDataDir()
	content := fmt.Sprintf(sampleConfigTemplate,
		filepath.Join(dataDir, "store"),
		filepath.Join(dataDir, "library.db"),
	)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
