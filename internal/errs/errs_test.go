package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"permission", fs.ErrPermission, Permission},
		{"eacces", &os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, Permission},
		{"not exist", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, Transient},
		{"would block", syscall.EWOULDBLOCK, Transient},
		{"unsupported", errors.ErrUnsupported, Unsupported},
		{"unknown", errors.New("boom"), Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapKeepsExplicitCode(t *testing.T) {
	inner := New(DataFormat, "decode", errors.New("bad cbor"))
	err := Wrap("consume", fmt.Errorf("tick: %w", inner))

	assert.True(t, Is(err, DataFormat))
	assert.False(t, Is(err, Transient))
	assert.ErrorIs(t, err, inner)
	assert.Nil(t, Wrap("noop", nil))
}
