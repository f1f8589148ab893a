package agent

import (
	"context"
	"fmt"

	"github.com/Hara602/hostSentry/internal/config"
	"github.com/Hara602/hostSentry/internal/eventstore"
	"github.com/Hara602/hostSentry/internal/pipeline"
	"github.com/Hara602/hostSentry/internal/scanner"
	"github.com/Hara602/hostSentry/internal/session"
	"github.com/Hara602/hostSentry/internal/sysutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// NewSessions 按配置选择会话来源
func NewSessions(cfg config.SessionConfig) session.Directory {
	if cfg.Backend == "static" {
		return session.NewStatic(cfg.StaticUser)
	}
	return session.NewLogind(cfg.LogindDir)
}

// BuildSink 按配置组合下游
func BuildSink(ctx context.Context, cfg config.SinksConfig, sessions session.Directory, log *zap.Logger) (pipeline.MultiSink, error) {
	var sinks pipeline.MultiSink
	if cfg.Log {
		sinks = append(sinks, pipeline.NewLogSink(log.Named("activity")))
	}
	if cfg.File != "" {
		fs, err := pipeline.OpenFileSink(cfg.File, log)
		if err != nil {
			return nil, multierr.Append(err, sinks.Close())
		}
		sinks = append(sinks, fs)
	}
	if cfg.SQLite != "" {
		host := sysutil.LookupHost(ctx)
		log.Info("Event store host identity",
			zap.String("host", host.Hostname), zap.String("ip", host.LocalIP), zap.String("mac", host.MAC))
		store, err := eventstore.Open(ctx, cfg.SQLite, host, sessions)
		if err != nil {
			return nil, multierr.Append(err, sinks.Close())
		}
		sinks = append(sinks, store)
	}
	return sinks, nil
}

// buildStores 浏览器历史和最近文件列表
func buildStores(cfg config.ScannersConfig, tags scanner.Tagger, filter scanner.PathFilter) ([]scanner.Store, error) {
	var stores []scanner.Store
	for _, b := range cfg.Browsers {
		if b.Schema == scanner.SchemaSafariPlist {
			stores = append(stores, scanner.NewHistoryPlist(b.Name, b.Path))
			continue
		}
		h, err := scanner.NewHistoryDB(b.Name, b.Schema, b.Path, cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("browser %s: %w", b.Name, err)
		}
		stores = append(stores, h)
	}
	if cfg.Recent.Enabled && cfg.Recent.Path != "" {
		stores = append(stores, scanner.NewRecentFiles(cfg.Recent.Path, tags, filter))
	}
	return stores, nil
}
