package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxbiblia/ark/internal/bytesize"
	"github.com/voxbiblia/ark/internal/cli/output"
	"github.com/voxbiblia/ark/internal/cli/timeutil"
	"github.com/voxbiblia/ark/pkg/api/handlers"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long: `Display the current status of the ark engine.

This command checks the engine through its ops API and displays
connectivity, storage usage, sync queue depth and download activity.

Examples:
  # Check status (uses default settings)
  ark status

  # Check status with custom ops API port
  ark status --api-port 9423

  # Output as JSON
  ark status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/ark/ark.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 7423, "Ops API port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// EngineStatus aggregates process liveness and the engine snapshot for
// display.
type EngineStatus struct {
	Running   bool                     `json:"running"              yaml:"running"`
	PID       int                      `json:"pid,omitempty"        yaml:"pid,omitempty"`
	Message   string                   `json:"message"              yaml:"message"`
	StartedAt string                   `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string                   `json:"uptime,omitempty"     yaml:"uptime,omitempty"`
	Healthy   bool                     `json:"healthy"              yaml:"healthy"`
	Engine    *handlers.StatusResponse `json:"engine,omitempty"     yaml:"engine,omitempty"`
}

// envelope mirrors the ops API response wrapper with the payload left raw.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := EngineStatus{
		Running: false,
		Healthy: false,
		Message: "Engine is not running",
	}

	// Use default PID file if not specified
	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Signal 0 probes liveness; on Unix FindProcess alone always succeeds.
	if pid, err := readPidFile(pidPath); err == nil {
		if process, err := os.FindProcess(pid); err == nil && process.Signal(syscall.Signal(0)) == nil {
			status.Running = true
			status.PID = pid
		}
	}

	// Query the ops API (works for both daemon and foreground mode)
	client := &http.Client{Timeout: 2 * time.Second}
	base := fmt.Sprintf("http://localhost:%d", statusAPIPort)

	fetchHealth(client, base, &status)
	fetchEngineSnapshot(client, base, &status)

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

// fetchHealth fills liveness details from GET /health.
func fetchHealth(client *http.Client, base string, status *EngineStatus) {
	resp, err := client.Get(base + "/health")
	if err != nil {
		if status.Running {
			// PID file says running but the ops API did not answer
			status.Message = "Engine process exists but the ops API is not responding"
		}
		return
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		status.Running = true
		status.Message = "Engine is running but health response invalid"
		return
	}

	status.Running = true
	status.Healthy = env.Status == "healthy"
	if status.Healthy {
		status.Message = "Engine is running and healthy"
	} else {
		status.Message = fmt.Sprintf("Engine is running but unhealthy: %s", env.Error)
	}

	var data struct {
		StartedAt string `json:"started_at"`
		Uptime    string `json:"uptime"`
	}
	if err := json.Unmarshal(env.Data, &data); err == nil {
		status.StartedAt = data.StartedAt
		status.Uptime = data.Uptime
	}
}

// fetchEngineSnapshot fills the engine details from GET /status.
func fetchEngineSnapshot(client *http.Client, base string, status *EngineStatus) {
	resp, err := client.Get(base + "/status")
	if err != nil {
		return
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return
	}
	if env.Status != "ok" {
		return
	}

	var snapshot handlers.StatusResponse
	if err := json.Unmarshal(env.Data, &snapshot); err != nil {
		return
	}
	status.Engine = &snapshot
}

func printStatusTable(status EngineStatus) {
	fmt.Println()
	fmt.Println("Ark Engine Status")
	fmt.Println("=================")
	fmt.Println()

	if status.Running {
		if status.Healthy {
			fmt.Printf("  Status:     \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:     \033[33m● Running (unhealthy)\033[0m\n")
		}
		if status.PID != 0 {
			fmt.Printf("  PID:        %d\n", status.PID)
		}
		if status.StartedAt != "" {
			fmt.Printf("  Started:    %s\n", timeutil.FormatTime(status.StartedAt))
		}
		if status.Uptime != "" {
			fmt.Printf("  Uptime:     %s\n", timeutil.FormatUptime(status.Uptime))
		}
	} else {
		fmt.Printf("  Status:     \033[31m○ Stopped\033[0m\n")
	}

	if status.Engine != nil {
		fmt.Println()
		printEngineTable(status.Engine)
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}

func printEngineTable(engine *handlers.StatusResponse) {
	connectivity := "offline"
	if engine.Online {
		connectivity = "online"
	}

	storage := bytesize.ByteSize(engine.Storage.UsedBytes).String()
	if engine.Storage.MaxBytes > 0 {
		storage = fmt.Sprintf("%s / %s",
			bytesize.ByteSize(engine.Storage.UsedBytes).String(),
			bytesize.ByteSize(engine.Storage.MaxBytes).String())
	}

	pairs := [][2]string{
		{"Connectivity", connectivity},
		{"Storage", storage},
		{"Pending sync", strconv.Itoa(engine.Sync.Pending)},
		{"Dead letters", strconv.Itoa(engine.Sync.DeadLetters)},
	}
	if engine.Sync.LastError != "" {
		lastError := engine.Sync.LastError
		if at, err := time.Parse(time.RFC3339, engine.Sync.LastErrorAt); err == nil {
			lastError = fmt.Sprintf("%s (%s)", lastError, timeutil.FormatAgo(at))
		}
		pairs = append(pairs, [2]string{"Last sync error", lastError})
	}

	// Download counts in a stable order
	states := make([]string, 0, len(engine.Downloads))
	for state := range engine.Downloads {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		if n := engine.Downloads[state]; n > 0 {
			pairs = append(pairs, [2]string{"Downloads " + state, strconv.Itoa(n)})
		}
	}

	output.SimpleTable(os.Stdout, pairs)
}
