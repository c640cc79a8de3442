package commands

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the ark engine",
	Long: `Stop a running ark engine.

SIGTERM asks the engine to drain and persist its state; --force sends
SIGKILL instead and skips the graceful path.

Examples:
  ark stop
  ark stop --pid-file /var/run/ark.pid
  ark stop --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Where the engine PID is recorded (default: $XDG_STATE_HOME/ark/ark.pid)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Kill with SIGKILL instead of asking for a graceful stop")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pid, err := readPidFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("PID file not found: %s\n\nIs the engine running?", pidPath)
		}
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("no process with PID %d: %w", pid, err)
	}

	sig, name := syscall.SIGTERM, "SIGTERM"
	if stopForce {
		sig, name = syscall.SIGKILL, "SIGKILL"
	}
	fmt.Printf("Sending %s to PID %d\n", name, pid)

	if err := process.Signal(sig); err != nil {
		if err == os.ErrProcessDone {
			fmt.Println("Engine already stopped")
			_ = os.Remove(pidPath)
			return nil
		}
		return fmt.Errorf("signalling PID %d: %w", pid, err)
	}

	if stopForce {
		fmt.Println("Engine terminated")
	} else {
		fmt.Println("Shutdown signal sent. Engine will stop gracefully.")
	}
	return nil
}
