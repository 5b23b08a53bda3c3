package transfer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAborted 传输被调用方取消
	ErrAborted = errors.New("transfer aborted")
	// ErrChunkTransfer 某个分块读写失败
	ErrChunkTransfer = errors.New("chunk transfer failed")
	// ErrMergeFailed 合并分块失败
	ErrMergeFailed = errors.New("merge failed")
)

// ChunkError 记录失败分块的序号, errors.Is(err, ErrChunkTransfer) 成立
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkTransfer, e.Err}
}

func aborted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
}

// chunkFailure 取消导致的失败归为 ErrAborted, 其余包装为 ChunkError
func chunkFailure(ctx context.Context, index int, err error) error {
	if errors.Is(err, ErrAborted) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: chunk %d: %w", aborted(ctx), index, err)
	}
	return &ChunkError{Index: index, Err: err}
}
