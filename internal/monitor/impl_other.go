//go:build !linux

package monitor

import (
	"errors"

	"github.com/Hara602/hostSentry/internal/errs"
	"go.uber.org/zap"
)

func newFanotify(*zap.Logger) (FileMonitor, error) {
	return nil, errs.New(errs.Unsupported, "fanotify init", errors.ErrUnsupported)
}
