package transfer

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/pkg/sftp"
	"github.com/wentf9/xops-xfer/pkg/pool"
)

// cleanupRemoteChunks 删除远程分块, 不存在的分块视为已删除, 可重复调用
func (e *Engine) cleanupRemoteChunks(ctx context.Context, req Request, parts []Artifact) error {
	return e.withSession(ctx, req, func(_ *pool.Session, fs *sftp.Client) error {
		var errs []error
		for _, p := range parts {
			if err := fs.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// cleanupRemoteQuietly 清理失败只记录日志, 不影响返回给调用方的错误
func (e *Engine) cleanupRemoteQuietly(ctx context.Context, req Request, parts []Artifact, log *slog.Logger) {
	if err := e.cleanupRemoteChunks(context.WithoutCancel(ctx), req, parts); err != nil {
		log.Warn("cleanup remote chunks failed", "error", err)
	}
}

// CleanupLocalChunks 删除本地分块, 不存在的分块视为已删除, 可重复调用
func CleanupLocalChunks(parts []Artifact) error {
	var errs []error
	for _, p := range parts {
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
