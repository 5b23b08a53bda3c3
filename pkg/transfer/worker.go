package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"github.com/wentf9/xops-xfer/pkg/metrics"
	"github.com/wentf9/xops-xfer/pkg/pool"
)

// uploadChunk 先把分块提取到本地临时文件, 再整体写入远端的 remotePart
func (e *Engine) uploadChunk(ctx context.Context, req Request, remotePart string, c Chunk, tempDir string, progress *chunkProgress) error {
	if ctx.Err() != nil {
		return aborted(ctx)
	}
	extracted, err := extractRange(ctx, req.LocalPath, c, tempDir)
	if err != nil {
		return chunkFailure(ctx, c.Index, err)
	}
	defer os.Remove(extracted)

	err = e.withSession(ctx, req, func(s *pool.Session, fs *sftp.Client) error {
		src, err := os.Open(extracted)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := fs.Create(remotePart)
		if err != nil {
			return fmt.Errorf("create remote chunk %s: %w", remotePart, err)
		}
		n, err := copyStream(ctx, dst, src, progress.update)
		if err != nil {
			dst.Close()
			return err
		}
		if err := dst.Close(); err != nil {
			return fmt.Errorf("close remote chunk %s: %w", remotePart, err)
		}
		if n != c.Size {
			return fmt.Errorf("wrote %d of %d bytes: %w", n, c.Size, io.ErrUnexpectedEOF)
		}
		progress.flush(n)
		e.log.Debug("chunk uploaded", "host", s.HostKey, "session", s.ID, "chunk", c.Index, "bytes", n)
		return nil
	})
	if err != nil {
		return chunkFailure(ctx, c.Index, err)
	}
	metrics.ChunksTransferredTotal.WithLabelValues(dirUpload).Inc()
	return nil
}

// extractRange 把本地文件的 [c.Start, c.End] 复制到临时文件, 返回临时文件路径
func extractRange(ctx context.Context, localPath string, c Chunk, tempDir string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(tempDir, partName(filepath.Base(localPath), c.Index)+".*")
	if err != nil {
		return "", fmt.Errorf("create extraction file: %w", err)
	}
	_, err = copyStream(ctx, tmp, io.NewSectionReader(src, c.Start, c.Size), nil)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// downloadChunk 读取远端文件的 [c.Start, c.End] 写入本地分块 localPart
func (e *Engine) downloadChunk(ctx context.Context, req Request, localPart string, c Chunk, progress *chunkProgress) error {
	if ctx.Err() != nil {
		return aborted(ctx)
	}
	err := e.withSession(ctx, req, func(s *pool.Session, fs *sftp.Client) error {
		src, err := fs.Open(req.RemotePath)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := os.OpenFile(localPart, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("create local chunk %s: %w", localPart, err)
		}
		n, err := copyStream(ctx, dst, io.NewSectionReader(src, c.Start, c.Size), progress.update)
		if err != nil {
			dst.Close()
			return err
		}
		if err := dst.Close(); err != nil {
			return fmt.Errorf("close local chunk %s: %w", localPart, err)
		}
		if n != c.Size {
			return fmt.Errorf("read %d of %d bytes: %w", n, c.Size, io.ErrUnexpectedEOF)
		}
		progress.flush(n)
		e.log.Debug("chunk downloaded", "host", s.HostKey, "session", s.ID, "chunk", c.Index, "bytes", n)
		return nil
	})
	if err != nil {
		return chunkFailure(ctx, c.Index, err)
	}
	metrics.ChunksTransferredTotal.WithLabelValues(dirDownload).Inc()
	return nil
}

// uploadWhole 不分块, 用一个会话把整个文件写入 target
func (e *Engine) uploadWhole(ctx context.Context, req Request, target string, rep *reporter) error {
	return e.withSession(ctx, req, func(_ *pool.Session, fs *sftp.Client) error {
		src, err := os.Open(req.LocalPath)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return fmt.Errorf("create remote file %s: %w", target, err)
		}
		n, err := copyStream(ctx, dst, src, newStreamProgress(rep).update)
		if err != nil {
			dst.Close()
			return err
		}
		if err := dst.Close(); err != nil {
			return fmt.Errorf("close remote file %s: %w", target, err)
		}
		rep.report(n)
		return nil
	})
}

// downloadWhole 不分块, 用一个会话把远端文件整体写入 local
func (e *Engine) downloadWhole(ctx context.Context, req Request, local string, rep *reporter) error {
	return e.withSession(ctx, req, func(_ *pool.Session, fs *sftp.Client) error {
		src, err := fs.Open(req.RemotePath)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		n, err := copyStream(ctx, dst, src, newStreamProgress(rep).update)
		if err != nil {
			dst.Close()
			return err
		}
		if err := dst.Close(); err != nil {
			return err
		}
		rep.report(n)
		return nil
	})
}
