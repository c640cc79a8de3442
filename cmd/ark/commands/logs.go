package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/voxbiblia/ark/pkg/config"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
	logsFile   string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail engine logs",
	Long: `Print the tail of the ark engine log, optionally streaming new
entries as they arrive.

A daemonized engine writes to a log file under the state directory.
When 'logging.output' in the configuration points at a file, that file
is read instead.

Examples:
  ark logs
  ark logs -n 50
  ark logs -f
  ark logs --since "2026-08-25T10:00:00Z"
  ark logs -f -n 20`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Stream new entries as they are written")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "How many trailing lines to print")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Skip entries older than this RFC3339 timestamp")
	logsCmd.Flags().StringVar(&logsFile, "log-file", "", "Path to log file (default: $XDG_STATE_HOME/ark/ark.log)")
}

// resolveLogFile picks the log file to read: the explicit flag, then a file
// configured as the logging output, then the daemon log in the state dir.
func resolveLogFile() (string, error) {
	if logsFile != "" {
		return logsFile, nil
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}

	if out := cfg.Logging.Output; out != "stdout" && out != "stderr" && out != "" {
		return out, nil
	}

	// Daemon mode redirects stdout/stderr here
	return GetDefaultLogFile(), nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	logPath, err := resolveLogFile()
	if err != nil {
		return err
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s\nThe engine may not have started yet or is logging elsewhere", logPath)
	}

	var sinceTime time.Time
	if logsSince != "" {
		sinceTime, err = time.Parse(time.RFC3339, logsSince)
		if err != nil {
			return fmt.Errorf("cannot parse --since, want RFC3339: %w", err)
		}
	}

	if logsFollow {
		return followLogs(logPath, logsLines, sinceTime)
	}

	return showLogs(logPath, logsLines, sinceTime)
}

// showLogs prints the last n lines of the log file, skipping entries older
// than since when set.
func showLogs(logFile string, n int, since time.Time) error {
	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", logFile, err)
	}
	defer func() { _ = file.Close() }()

	// Keep only the trailing window instead of the whole file.
	window := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if at := extractTimestamp(line); !at.IsZero() && at.Before(since) {
				continue
			}
		}
		if len(window) < n {
			window = append(window, line)
		} else {
			copy(window, window[1:])
			window[n-1] = line
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", logFile, err)
	}

	for _, line := range window {
		fmt.Println(line)
	}
	return nil
}

// followLogs prints the trailing lines and then streams new entries until
// interrupted.
func followLogs(logFile string, initialLines int, since time.Time) error {
	if err := showLogs(logFile, initialLines, since); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(logFile); err != nil {
		return fmt.Errorf("failed to watch %s: %w", logFile, err)
	}

	file, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", logFile, err)
	}
	defer func() { _ = file.Close() }()

	// Stream only entries written after the initial dump.
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to the end of %s: %w", logFile, err)
	}
	reader := bufio.NewReader(file)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Tailing %s, interrupt to stop.\n", logFile)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				printNewLines(reader)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher: %w", err)
		}
	}
}

// printNewLines copies complete lines that arrived since the last call.
func printNewLines(reader *bufio.Reader) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		fmt.Print(line)
	}
}

// extractTimestamp pulls the timestamp out of a log line, understanding the
// two shapes our handlers write: JSON objects with a "time" field and text
// lines opening with a bracketed local stamp. Returns the zero time when
// neither parses.
func extractTimestamp(line string) time.Time {
	if strings.HasPrefix(line, "{") {
		var entry struct {
			Time time.Time `json:"time"`
		}
		if json.Unmarshal([]byte(line), &entry) == nil {
			return entry.Time
		}
		return time.Time{}
	}

	if rest, ok := strings.CutPrefix(line, "["); ok {
		if stamp, _, found := strings.Cut(rest, "]"); found {
			if t, err := time.ParseInLocation("2006-01-02 15:04:05.000", stamp, time.Local); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
