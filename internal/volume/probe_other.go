//go:build !linux

package volume

import (
	"context"
	"errors"

	"github.com/Hara602/hostSentry/internal/errs"
)

type LinuxProbe struct {
	Letters *LetterAllocator
}

func NewLinuxProbe(letters *LetterAllocator) *LinuxProbe { return &LinuxProbe{Letters: letters} }

func (p *LinuxProbe) Drives(context.Context) (map[byte]DriveInfo, error) {
	return nil, errs.New(errs.Unsupported, "probe drives", errors.ErrUnsupported)
}
