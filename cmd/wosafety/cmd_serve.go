package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/wosafety/internal/channel"
	"github.com/user/wosafety/internal/delivery"
	"github.com/user/wosafety/internal/review"
	"github.com/user/wosafety/internal/scheduler"
	"github.com/user/wosafety/internal/server"
	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/telegram"
)

const pidFileName = "wosafety.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wosafety daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	st, err := newStack(cfg)
	if err != nil {
		return err
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	st.gateway.Start(ctx)
	defer st.gateway.Stop()

	pages := review.NewManager(st.reviewDeps())
	defer pages.CloseAll()

	slog.Info("wosafety started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", cfg.MaxToolRounds,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"tools", st.tools.Names(),
		"pid_file", pidPath,
	)

	deliveryReg := delivery.NewRegistry()
	deliveryReg.Register("log:", func(notifyKey, message string) error {
		slog.Info("safety check notification", "notify_key", notifyKey, "message", message)
		return nil
	})

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, st.gateway, st.workOrders)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
		deliveryReg.Register(adapter.Prefix(), adapter.SendTo)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}
	slog.Debug("delivery routes", "prefixes", deliveryReg.Prefixes())

	sched := scheduler.New(st.schedules, func(sc state.Schedule) {
		result, err := st.gateway.RunSafetyCheck(gctx, sc.WorkOrderID)
		msg := delivery.FormatResult(sc.WorkOrderID, result)
		if err != nil {
			slog.Error("scheduled safety check failed", "name", sc.Name, "work_order_id", string(sc.WorkOrderID), "error", err)
			msg = delivery.FormatFailure(sc.WorkOrderID, err)
		}
		if sc.NotifyKey == "" {
			return
		}
		if err := deliveryReg.Deliver(sc.NotifyKey, msg); err != nil {
			slog.Error("schedule delivery failed", "name", sc.Name, "notify_key", sc.NotifyKey, "error", err)
		}
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started", "entries", sched.Entries())

	if cfg.HTTP.Enabled {
		srv := server.NewServer(server.Options{
			WorkOrders: st.workOrders,
			Sessions:   st.sessions,
			Records:    st.records,
			Schedules:  st.schedules,
			Pages:      pages,
			Checker:    st.gateway,
			Notify:     deliveryReg.Deliver,
			Stream:     channel.NewWSHandler(st.hub),
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-gctx.Done():
			cancel()
			return g.Wait()
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				// Clean up PID file before re-exec
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
						slog.Error("failed to re-write PID file", "error", writeErr)
					}
				}
				continue
			}
			slog.Info("shutting down", "signal", sig)
			cancel()
			return g.Wait()
		}
	}
}
