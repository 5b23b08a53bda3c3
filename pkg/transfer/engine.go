package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/wentf9/xops-xfer/pkg/logger"
	"github.com/wentf9/xops-xfer/pkg/metrics"
	"github.com/wentf9/xops-xfer/pkg/models"
	"github.com/wentf9/xops-xfer/pkg/pool"
	"github.com/wentf9/xops-xfer/pkg/utils/file"
)

const (
	dirUpload   = "upload"
	dirDownload = "download"
)

// Request 一次单文件传输
type Request struct {
	Host       models.Host
	Identity   models.Identity
	LocalPath  string
	RemotePath string
	Progress   ProgressFunc // 可为空
	Options    *Options     // 为空时使用 Engine 的默认参数
}

// EngineOption 定义 Engine 的配置函数
type EngineOption func(*Engine)

// WithOptions 设置默认传输参数
func WithOptions(o Options) EngineOption {
	return func(e *Engine) {
		e.opts = o
	}
}

// WithMergeTimeout 远端合并命令的超时时间
func WithMergeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.mergeTimeout = d
		}
	}
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine 基于连接池的文件传输
// 大文件切分为分块并发传输再合并, 小文件直接整体传输
type Engine struct {
	pool         *pool.Pool
	opts         Options
	mergeTimeout time.Duration
	log          *slog.Logger
}

func NewEngine(p *pool.Pool, opts ...EngineOption) *Engine {
	e := &Engine{
		pool:         p,
		opts:         DefaultOptions(),
		mergeTimeout: DefaultMergeTimeout,
		log:          logger.Logger.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) options(req Request) Options {
	if req.Options != nil {
		return req.Options.withDefaults()
	}
	return e.opts.withDefaults()
}

// withSession 借出一个会话执行 fn, 任何情况下都会归还
func (e *Engine) withSession(ctx context.Context, req Request, fn func(*pool.Session, *sftp.Client) error) error {
	s, err := e.pool.Acquire(ctx, req.Host, req.Identity)
	if err != nil {
		return err
	}
	defer s.Release()
	fs, err := s.Transfer()
	if err != nil {
		return fmt.Errorf("reopen sftp channel of session %s on %s: %w", s.ID, s.HostKey, err)
	}
	return fn(s, fs)
}

// Upload 上传本地文件到远端
// 进度回调先收到 (0, total), 成功时最后收到 (total, total)
func (e *Engine) Upload(ctx context.Context, req Request) error {
	opts := e.options(req)
	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return fmt.Errorf("stat local path failed: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", req.LocalPath)
	}
	total := info.Size()

	target, err := e.resolveRemoteTarget(ctx, req, filepath.Base(req.LocalPath))
	if err != nil {
		return e.fail(ctx, err)
	}
	log := e.log.With("transfer", uuid.NewString(), "direction", dirUpload, "host", req.Host.Key(), "remote", target)

	rep := newReporter(req.Progress, total)
	rep.start()

	// 零字节文件和小文件不进入分块流程
	if total == 0 || !ShouldUseParallelTransfer(total, opts.SizeThreshold) {
		err = e.uploadWhole(ctx, req, target, rep)
	} else {
		err = e.uploadChunked(ctx, req, target, total, opts, rep, log)
	}
	if err != nil {
		return e.fail(ctx, err)
	}

	err = e.withSession(ctx, req, func(_ *pool.Session, fs *sftp.Client) error {
		return fs.Chmod(target, info.Mode().Perm())
	})
	if err != nil {
		log.Warn("preserve remote file mode failed", "error", err)
	}
	metrics.TransferBytesTotal.WithLabelValues(dirUpload).Add(float64(total))
	rep.finish()
	log.Info("upload finished", "bytes", total)
	return nil
}

func (e *Engine) uploadChunked(ctx context.Context, req Request, target string, total int64, opts Options, rep *reporter, log *slog.Logger) error {
	chunks := Plan(total, opts.ChunkSize)
	parts := remoteArtifacts(target, len(chunks))
	table := NewProgressTable()
	log.Debug("chunked upload", "chunks", len(chunks), "chunk_size", opts.ChunkSize, "concurrency", opts.MaxConcurrentChunks)

	err := RunBounded(ctx, chunks, opts.MaxConcurrentChunks, func(ctx context.Context, c Chunk) error {
		return e.uploadChunk(ctx, req, parts[c.Index].Path, c, opts.TempDir, newChunkProgress(c.Index, table, rep))
	})
	if err != nil {
		e.cleanupRemoteQuietly(ctx, req, parts, log)
		return err
	}

	mergeErr := e.mergeRemote(ctx, req, target, parts)
	if mergeErr == nil {
		return nil
	}
	log.Warn("remote merge failed, retrying as whole-file upload", "error", mergeErr)
	metrics.MergeFallbacksTotal.Inc()
	e.cleanupRemoteQuietly(ctx, req, parts, log)
	if err := e.uploadWhole(ctx, req, target, rep); err != nil {
		return errors.Join(mergeErr, err)
	}
	return nil
}

// Download 下载远端文件到本地
func (e *Engine) Download(ctx context.Context, req Request) error {
	opts := e.options(req)
	var info os.FileInfo
	err := e.withSession(ctx, req, func(_ *pool.Session, fs *sftp.Client) error {
		var err error
		info, err = fs.Stat(req.RemotePath)
		return err
	})
	if err != nil {
		return e.fail(ctx, fmt.Errorf("stat remote path failed: %w", err))
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", req.RemotePath)
	}
	total := info.Size()

	local := req.LocalPath
	if st, err := os.Stat(local); err == nil && st.IsDir() {
		local = filepath.Join(local, path.Base(req.RemotePath))
	}
	if err := file.EnsureParentDir(local); err != nil {
		return err
	}
	log := e.log.With("transfer", uuid.NewString(), "direction", dirDownload, "host", req.Host.Key(), "local", local)

	rep := newReporter(req.Progress, total)
	rep.start()

	if total == 0 || !ShouldUseParallelTransfer(total, opts.SizeThreshold) {
		err = e.downloadWhole(ctx, req, local, rep)
	} else {
		err = e.downloadChunked(ctx, req, local, total, opts, rep, log)
	}
	if err != nil {
		return e.fail(ctx, err)
	}

	if err := os.Chmod(local, info.Mode().Perm()); err != nil {
		log.Warn("preserve local file mode failed", "error", err)
	}
	metrics.TransferBytesTotal.WithLabelValues(dirDownload).Add(float64(total))
	rep.finish()
	log.Info("download finished", "bytes", total)
	return nil
}

func (e *Engine) downloadChunked(ctx context.Context, req Request, local string, total int64, opts Options, rep *reporter, log *slog.Logger) error {
	chunks := Plan(total, opts.ChunkSize)
	parts := localArtifacts(opts.TempDir, filepath.Base(local), len(chunks))
	table := NewProgressTable()
	log.Debug("chunked download", "chunks", len(chunks), "chunk_size", opts.ChunkSize, "concurrency", opts.MaxConcurrentChunks)

	cleanup := func() {
		if err := CleanupLocalChunks(parts); err != nil {
			log.Warn("cleanup local chunks failed", "error", err)
		}
	}
	err := RunBounded(ctx, chunks, opts.MaxConcurrentChunks, func(ctx context.Context, c Chunk) error {
		return e.downloadChunk(ctx, req, parts[c.Index].Path, c, newChunkProgress(c.Index, table, rep))
	})
	if err != nil {
		cleanup()
		return err
	}
	if err := MergeLocal(local, parts, log); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}
	return nil
}

// resolveRemoteTarget 远端路径是已存在的目录时, 目标为目录下的同名文件
func (e *Engine) resolveRemoteTarget(ctx context.Context, req Request, name string) (string, error) {
	target := req.RemotePath
	err := e.withSession(ctx, req, func(_ *pool.Session, fs *sftp.Client) error {
		if st, err := fs.Stat(target); err == nil && st.IsDir() {
			target = path.Join(target, name)
		}
		return nil
	})
	return target, err
}

// fail 调用方已取消时把错误归为 ErrAborted
func (e *Engine) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, ErrAborted) {
		return fmt.Errorf("%w: %w", aborted(ctx), err)
	}
	return err
}
