//go:build !linux

package mailbox

import (
	"context"
	"errors"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
)

var ErrLockTimeout = errors.New("mailbox: lock wait timed out")

type region struct {
	data []byte
}

func openRegion(regionPaths, int, bool) (*region, error) {
	return nil, errs.New(errs.Unsupported, "open region", errors.ErrUnsupported)
}

func (r *region) lock(context.Context, time.Duration) error { return errors.ErrUnsupported }
func (r *region) unlock() error                            { return nil }
func (r *region) replaced() bool                           { return false }
func (r *region) discardLock() error                       { return nil }
func (r *region) close() error                             { return nil }
