package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/dashgate/internal/config"
)

func newReloadCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Send SIGHUP to the running server via its pid file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			pid, err := readPID(cfg.Server.PidFile)
			if err != nil {
				return err
			}
			p, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("find process pid=%d: %w", pid, err)
			}
			if err := p.Signal(syscall.SIGHUP); err != nil {
				return fmt.Errorf("send SIGHUP pid=%d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reload signal sent to pid %d\n", pid)
			return nil
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

func readPID(pidFile string) (int, error) {
	pidFile = strings.TrimSpace(pidFile)
	if pidFile == "" {
		return 0, errors.New("server.pid_file is not configured")
	}
	// #nosec G304 -- pid file path comes from trusted config/env.
	b, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("read pid file %q: %w", pidFile, err)
	}
	pidStr := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %q: %q", pidFile, pidStr)
	}
	return pid, nil
}
