package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hara602/hostSentry/internal/agent"
	"github.com/Hara602/hostSentry/internal/sysutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(a *app) *cobra.Command {
	var allowUnprivileged bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer sysutil.Log.Sync()

			// Netlink 和 fanotify 需要 root 权限
			if os.Geteuid() != 0 && !allowUnprivileged {
				return errors.New("must run as root (required by netlink/fanotify), or pass --allow-unprivileged")
			}

			// 捕获操作系统信号，优雅关闭
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ag, err := agent.New(ctx, a.cfg, agent.Options{Log: sysutil.Log})
			if err != nil {
				sysutil.Log.Error("Agent init failed", zap.Error(err))
				return err
			}
			return ag.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&allowUnprivileged, "allow-unprivileged", false, "run without root (fsnotify backend, polling only)")
	return cmd
}
