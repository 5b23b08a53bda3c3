package transfer

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkFailureClassification(t *testing.T) {
	ioErr := errors.New("short write")

	err := chunkFailure(context.Background(), 4, ioErr)
	var ce *ChunkError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, 4, ce.Index)
	assert.ErrorIs(t, err, ErrChunkTransfer)
	assert.ErrorIs(t, err, ioErr)
	assert.NotErrorIs(t, err, ErrAborted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// 取消时连接被关闭, 底层错误本身不带 context.Canceled
	err = chunkFailure(ctx, 3, net.ErrClosed)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.NotErrorIs(t, err, ErrChunkTransfer)

	already := aborted(ctx)
	assert.Same(t, already, chunkFailure(ctx, 1, already))
}

func TestFailWrapsCause(t *testing.T) {
	e := &Engine{}
	ctx, cancel := context.WithCancelCause(context.Background())
	stop := errors.New("operator stop")
	cancel(stop)

	err := e.fail(ctx, net.ErrClosed)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, stop)
	assert.ErrorIs(t, err, net.ErrClosed)

	assert.Equal(t, net.ErrClosed, e.fail(context.Background(), net.ErrClosed))
}
