// Command cortexd is the local supervisor CLI (C13): start/stop/status
// for the locally-managed D-store process, per spec.md §4.13. It only
// supervises the external process; the storage core itself is a library
// consumed by callers, not a daemon this binary runs.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oriys/cortex/internal/config"
	"github.com/oriys/cortex/internal/logging"
	"github.com/oriys/cortex/internal/supervisor"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortexd",
		Short: "cortexd supervises the local D-store process",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to cortex config file")

	rootCmd.AddCommand(startCmd(), stopCmd(), statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func supervisorFromConfig(cfg *config.Config) *supervisor.Supervisor {
	s := cfg.Supervisor
	return supervisor.New(supervisor.Config{
		Binary:       s.Binary,
		Args:         s.Args,
		DataDir:      s.DataDir,
		LogFile:      s.LogFile,
		PIDFile:      s.PIDFile,
		Address:      s.Address,
		HealthURL:    s.HealthURL,
		PollInterval: s.PollInterval,
		StartTimeout: s.StartTimeout,
		StopTimeout:  s.StopTimeout,
		AutoRestart:  s.AutoRestart,
		MaxRestarts:  s.MaxRestarts,
	})
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Spawn and supervise the D-store process in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

			if !cfg.Supervisor.Enabled {
				return fmt.Errorf("supervisor disabled in config")
			}

			sup := supervisorFromConfig(cfg)
			ctx := cmd.Context()
			if err := sup.Start(ctx); err != nil {
				return err
			}
			alive, pid := sup.Status()
			logging.Op().Info("supervisor started process", "alive", alive, "pid", pid)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutting down supervised process")
			return sup.Stop()
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the D-store process named by the PID file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pid, err := readPIDFile(cfg.Supervisor.PIDFile)
			if err != nil {
				return err
			}
			if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
				return fmt.Errorf("signal process group %d: %w", pid, err)
			}
			deadline := time.Now().Add(cfg.Supervisor.StopTimeout)
			for time.Now().Before(deadline) {
				if unix.Kill(pid, syscall.Signal(0)) != nil {
					os.Remove(cfg.Supervisor.PIDFile)
					fmt.Println("stopped")
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}
			unix.Kill(-pid, unix.SIGKILL)
			os.Remove(cfg.Supervisor.PIDFile)
			fmt.Println("killed")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the supervised D-store process is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pid, err := readPIDFile(cfg.Supervisor.PIDFile)
			if err != nil {
				fmt.Println("not running")
				return nil
			}
			if unix.Kill(pid, syscall.Signal(0)) != nil {
				fmt.Println("not running (stale pid file)")
				return nil
			}
			fmt.Printf("running, pid %d\n", pid)
			return nil
		},
	}
}

func readPIDFile(path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("no pid file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(trimNewline(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
