// Package general 周期性的心跳和公网 IP 探测
package general

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"go.uber.org/zap"
)

// Heartbeat 启动时和之后每个周期各发出一个 HeartBeat
type Heartbeat struct {
	Interval time.Duration
	Emit     func(model.ActivityEvent)
}

func (h *Heartbeat) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	h.Emit(model.NewEvent(model.HeartBeat))
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Emit(model.NewEvent(model.HeartBeat))
		}
	}
}

// PublicIP 定期查询公网地址，失败时按较短的间隔重试
type PublicIP struct {
	URL      string
	Interval time.Duration
	Retry    time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Emit     func(model.ActivityEvent)
	Log      *zap.Logger
}

func (p *PublicIP) Run(ctx context.Context) error {
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	for {
		wait := p.Interval
		ip, err := p.Lookup(ctx)
		switch {
		case err == nil:
			p.Emit(model.NewEvent(model.PublicIpDiscovered, ip))
		case ctx.Err() != nil:
			return nil
		default:
			p.Log.Debug("Public IP lookup failed", zap.Error(err), zap.Duration("retry", p.Retry))
			wait = p.Retry
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Lookup 请求一次，响应体应当只包含一个 IP 地址
func (p *PublicIP) Lookup(ctx context.Context) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", errs.New(errs.DataFormat, "public ip request", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errs.New(errs.Transient, "public ip", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.Transient, "public ip", fmt.Errorf("status %s", resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", errs.New(errs.Transient, "public ip", err)
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return "", errs.New(errs.DataFormat, "public ip", err)
	}
	return addr.String(), nil
}
