package kernel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeDevice struct {
	page   []byte
	ret    int64
	err    error
	ops    []Op
	closed bool
}

func (d *fakeDevice) Ioctl(op Op, arg uintptr) (int64, error) {
	d.ops = append(d.ops, op)
	return d.ret, d.err
}

func (d *fakeDevice) Page() []byte { return d.page }

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

// countingOpener fails the first fail opens and then hands out dev.
func countingOpener(dev *fakeDevice, fail int) (Opener, *int) {
	opens := 0
	return func() (Device, error) {
		opens++
		if opens <= fail {
			return nil, errors.New("no such device")
		}
		return dev, nil
	}, &opens
}

func TestBridge_LazyMapping(t *testing.T) {
	dev := &fakeDevice{page: make([]byte, 4096), ret: 3}
	open, opens := countingOpener(dev, 0)
	b := NewBridge(open)

	assert.Equal(t, Unmapped, b.State())
	assert.Nil(t, b.MappedPage())
	assert.Equal(t, 0, *opens)

	n, err := b.Invoke(OpObjOpen, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, Mapped, b.State())

	_, err = b.Invoke(OpLock, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, *opens)
	assert.Equal(t, []Op{OpObjOpen, OpLock}, dev.ops)
	assert.Len(t, b.MappedPage(), 4096)
}

func TestBridge_RetryAfterFailure(t *testing.T) {
	dev := &fakeDevice{page: make([]byte, 4096)}
	open, opens := countingOpener(dev, 1)
	b := NewBridge(open)

	_, err := b.Invoke(OpTaskMode, ModeRealTime)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, Failed, b.State())
	assert.ErrorIs(t, b.Err(), ErrUnavailable)

	var ke *Error
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, OpTaskMode, ke.Op)

	_, err = b.Invoke(OpTaskMode, ModeRealTime)
	require.NoError(t, err)
	assert.Equal(t, Mapped, b.State())
	assert.NoError(t, b.Err())
	assert.Equal(t, 2, *opens)
}

func TestBridge_KernelErrors(t *testing.T) {
	t.Run("errno", func(t *testing.T) {
		dev := &fakeDevice{page: make([]byte, 4096), ret: -1, err: unix.EPERM}
		open, _ := countingOpener(dev, 0)
		_, err := NewBridge(open).Invoke(OpLock, 0)
		assert.ErrorIs(t, err, ErrKernelRejection)
		assert.ErrorIs(t, err, ErrPermission)
	})

	t.Run("negative return", func(t *testing.T) {
		dev := &fakeDevice{page: make([]byte, 4096), ret: -int64(unix.EINVAL)}
		open, _ := countingOpener(dev, 0)
		_, err := NewBridge(open).Invoke(OpUnlock, 0)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("foreign error", func(t *testing.T) {
		dev := &fakeDevice{page: make([]byte, 4096), err: errors.New("boom")}
		open, _ := countingOpener(dev, 0)
		_, err := NewBridge(open).Invoke(OpUnlock, 0)
		assert.ErrorIs(t, err, ErrKernelRejection)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestBridge_Close(t *testing.T) {
	dev := &fakeDevice{page: make([]byte, 4096)}
	open, opens := countingOpener(dev, 0)
	b := NewBridge(open)

	_, err := b.Page()
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.True(t, dev.closed)
	assert.Equal(t, Closed, b.State())
	assert.Nil(t, b.MappedPage())

	_, err = b.Invoke(OpLock, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.Equal(t, 1, *opens)

	assert.NoError(t, b.Close())
}

func TestBridge_CloseUnmapped(t *testing.T) {
	open, opens := countingOpener(&fakeDevice{}, 0)
	b := NewBridge(open)
	require.NoError(t, b.Close())
	assert.Equal(t, 0, *opens)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unmapped", Unmapped.String())
	assert.Equal(t, "mapped", Mapped.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "closed", Closed.String())
}
