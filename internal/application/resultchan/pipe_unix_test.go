//go:build unix

package resultchan

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeChannelReadsPayload(t *testing.T) {
	ch, err := NewPipe(t.TempDir())
	require.NoError(t, err)
	defer ch.Close()

	info, err := os.Stat(ch.Path())
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeNamedPipe)

	proc := newFakeProcess()
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = WriteResult(ch.Path(), map[string]string{"pathspec": "MyFlow/argo-myflow-x7k2"})
	}()

	data, err := ch.Read(context.Background(), proc, 5*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pathspec":"MyFlow/argo-myflow-x7k2"}`, string(data))
}

func TestPipeChannelTimeout(t *testing.T) {
	ch, err := NewPipe(t.TempDir())
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Read(context.Background(), newFakeProcess(), 300*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *domain.TimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 300*time.Millisecond, timeoutErr.Bound)
}

func TestPipeChannelNoPayload(t *testing.T) {
	ch, err := NewPipe(t.TempDir())
	require.NoError(t, err)
	defer ch.Close()

	proc := newFakeProcess()
	proc.exit(1)

	_, err = ch.Read(context.Background(), proc, 5*time.Second)
	assert.ErrorIs(t, err, ErrNoPayload)
}

func TestPipeWriteFailsWithoutReader(t *testing.T) {
	ch, err := NewPipe(t.TempDir())
	require.NoError(t, err)
	path := ch.Path()

	// keep the fifo but drop the reader
	pc := ch.(*pipeChannel)
	require.NoError(t, pc.f.Close())

	err = WriteResult(path, map[string]string{"a": "b"})
	assert.Error(t, err)
	_ = os.RemoveAll(pc.dir)
}
