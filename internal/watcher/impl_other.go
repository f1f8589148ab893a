//go:build !linux

package watcher

import (
	"context"
	"errors"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/volume"
	"go.uber.org/zap"
)

type stubWatcher struct{}

func newWatcher(*volume.LetterAllocator, *zap.Logger) DeviceWatcher { return stubWatcher{} }

func (stubWatcher) Start(context.Context) (<-chan model.DeviceChange, error) {
	return nil, errs.New(errs.Unsupported, "udev watch", errors.ErrUnsupported)
}

func (stubWatcher) Stop() {}
