package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/r9s-ai/dashgate/internal/config"
	"github.com/r9s-ai/dashgate/internal/logx"
	"github.com/r9s-ai/dashgate/internal/version"
)

func Run(cfgPath string) error {
	startedAt := time.Now().Unix()

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logx.New(os.Stderr, logx.ParseLevel(cfg.Logging.Level))

	accessLogger, accessClose, accessColor, err := openAccessLogger(cfg)
	if err != nil {
		return fmt.Errorf("init access log: %w", err)
	}
	if accessClose != nil {
		defer func() { _ = accessClose.Close() }()
	}

	pidCleanup, err := writePIDFile(cfg)
	if err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if pidCleanup != nil {
		defer func() { _ = pidCleanup.Close() }()
	}

	st, err := newState(cfgPath, cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	st.SetStartedAtUnix(startedAt)
	warnStartup(cfg, logger)

	installReloadSignalHandler(st)
	if cfg.Server.WatchConfig {
		stop, err := watchConfig(cfgPath, st)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer stop()
	}

	engine := NewRouter(st, accessLogger, accessColor)
	srv := &http.Server{
		Handler:           engine,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("dashgate listening", map[string]any{
		"listen":    cfg.Server.Listen,
		"version":   version.Short(),
		"max_conns": cfg.Server.MaxConns,
	})
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func warnStartup(cfg *config.Config, logger *logx.Logger) {
	if cfg.Policy.AnonymousRole == config.RoleAdmin {
		logger.Warn("requests without a user id are treated as admin", map[string]any{
			"anonymous_role": cfg.Policy.AnonymousRole,
			"hint":           "set policy.anonymous_role to user to restrict them",
		})
	}
	if strings.TrimSpace(cfg.Auth.AdminAPIKey) == "" {
		logger.Warn("admin routes are not protected", map[string]any{"hint": "set auth.admin_api_key"})
	}
	if cfg.MySQL.Host == "" || cfg.MySQL.Database == "" {
		logger.Warn("mysql connection is incomplete", cfg.MySQL.LogFields())
	}
}

func openAccessLogger(cfg *config.Config) (*log.Logger, io.Closer, bool, error) {
	if cfg == nil || !cfg.AccessLogEnabled() {
		return nil, nil, false, nil
	}

	path := strings.TrimSpace(cfg.Logging.AccessLogPath)
	if path == "" {
		return log.New(os.Stdout, "", 0), nil, logx.ColorEnabled(), nil
	}

	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, false, err
		}
	}
	// #nosec G304 -- access_log_path comes from trusted config/env.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, false, err
	}
	return log.New(f, "", 0), f, false, nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func writePIDFile(cfg *config.Config) (io.Closer, error) {
	if cfg == nil {
		return nil, nil
	}
	path := strings.TrimSpace(cfg.Server.PidFile)
	if path == "" {
		return nil, nil
	}
	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}

	tmp := path + ".tmp"
	pid := strconv.Itoa(os.Getpid()) + "\n"
	// #nosec G304 -- pid_file comes from trusted config/env.
	if err := os.WriteFile(tmp, []byte(pid), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return closerFunc(func() error { return os.Remove(path) }), nil
}

func installReloadSignalHandler(st *state) {
	if st == nil {
		return
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		for range ch {
			reloadAndLog(st, "signal")
		}
	}()
}

func reloadAndLog(st *state, source string) {
	if err := st.Reload(); err != nil {
		st.log.Error("reload failed", map[string]any{"error": err.Error(), "source": source})
		return
	}
	st.log.Info("reload ok", map[string]any{"source": source})
}
