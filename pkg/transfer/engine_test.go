package transfer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wentf9/xops-xfer/internal/testutil"
	"github.com/wentf9/xops-xfer/pkg/logger"
	"github.com/wentf9/xops-xfer/pkg/metrics"
	"github.com/wentf9/xops-xfer/pkg/pool"
)

const (
	testChunkSize = 128 << 10
	// 25 个分块, 最后一块只有 17 字节
	testLargeSize = 24*testChunkSize + 17
)

type fixture struct {
	srv    *testutil.SSHServer
	pool   *pool.Pool
	engine *Engine
	opts   Options
	local  string
	remote string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := testutil.NewSSHServer(t)
	p := pool.New(pool.WithLogger(logger.Discard()))
	t.Cleanup(p.CloseAll)

	opts := Options{
		ChunkSize:           testChunkSize,
		MaxConcurrentChunks: 5,
		SizeThreshold:       1 << 20,
		TempDir:             t.TempDir(),
	}
	return &fixture{
		srv:    srv,
		pool:   p,
		engine: NewEngine(p, WithLogger(logger.Discard()), WithOptions(opts)),
		opts:   opts,
		local:  t.TempDir(),
		remote: t.TempDir(),
	}
}

func (f *fixture) request(local, remote string, rec *progressRecorder) Request {
	req := Request{
		Host:       f.srv.HostDescriptor(),
		Identity:   f.srv.Identity(),
		LocalPath:  local,
		RemotePath: remote,
	}
	if rec != nil {
		req.Progress = rec.record
	}
	return req
}

func writeRandomFile(t *testing.T, name string, size int64) string {
	t.Helper()
	f, err := os.Create(name)
	require.NoError(t, err)
	defer f.Close()
	h := sha256.New()
	_, err = io.CopyN(io.MultiWriter(f, h), rand.Reader, size)
	require.NoError(t, err)
	return hex.EncodeToString(h.Sum(nil))
}

func fileHash(t *testing.T, name string) string {
	t.Helper()
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	h := sha256.New()
	_, err = io.Copy(h, f)
	require.NoError(t, err)
	return hex.EncodeToString(h.Sum(nil))
}

func assertNoArtifacts(t *testing.T, dir string) {
	t.Helper()
	for _, pattern := range []string{"*.part*", "*.merging"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		require.NoError(t, err)
		assert.Empty(t, matches, "leftover artifacts in %s", dir)
	}
}

func assertProgress(t *testing.T, calls [][2]int64, total int64) {
	t.Helper()
	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int64{0, total}, calls[0])
	assert.Equal(t, [2]int64{total, total}, calls[len(calls)-1])
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i][0], calls[i-1][0], "progress regressed at call %d", i)
		assert.Equal(t, total, calls[i][1])
	}
}

func mergeCommands(cmds []string) []string {
	var out []string
	for _, c := range cmds {
		if strings.HasPrefix(c, "cat ") {
			out = append(out, c)
		}
	}
	return out
}

func TestUploadChunked(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.local, "image.iso")
	want := writeRandomFile(t, src, testLargeSize)
	dst := filepath.Join(f.remote, "image.iso")

	chunksBefore := promtest.ToFloat64(metrics.ChunksTransferredTotal.WithLabelValues(dirUpload))
	rec := &progressRecorder{}
	require.NoError(t, f.engine.Upload(context.Background(), f.request(src, dst, rec)))

	assert.Equal(t, want, fileHash(t, dst))
	assertNoArtifacts(t, f.remote)
	assertProgress(t, rec.snapshot(), testLargeSize)
	assert.Len(t, mergeCommands(f.srv.Commands()), 1)
	assert.Equal(t, float64(25), promtest.ToFloat64(metrics.ChunksTransferredTotal.WithLabelValues(dirUpload))-chunksBefore)

	entries, err := os.ReadDir(f.opts.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "extracted chunk files must be removed")
	assert.Zero(t, f.pool.Status().Active)
}

func TestDownloadChunked(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.remote, "dump.sql")
	want := writeRandomFile(t, src, testLargeSize)
	dst := filepath.Join(f.local, "nested", "dump.sql")

	rec := &progressRecorder{}
	require.NoError(t, f.engine.Download(context.Background(), f.request(dst, src, rec)))

	assert.Equal(t, want, fileHash(t, dst))
	assertNoArtifacts(t, f.opts.TempDir)
	assertProgress(t, rec.snapshot(), testLargeSize)
	assert.Zero(t, f.pool.Status().Active)
}

func TestUploadFallsBackWhenMergeFails(t *testing.T) {
	f := newFixture(t)
	f.srv.SetExecHandler(func(cmd string) (int, bool) {
		if strings.HasPrefix(cmd, "cat ") {
			return 1, true
		}
		return 0, false
	})
	src := filepath.Join(f.local, "backup.tar")
	want := writeRandomFile(t, src, testLargeSize)
	dst := filepath.Join(f.remote, "backup.tar")

	fallbacksBefore := promtest.ToFloat64(metrics.MergeFallbacksTotal)
	rec := &progressRecorder{}
	require.NoError(t, f.engine.Upload(context.Background(), f.request(src, dst, rec)))

	assert.Equal(t, want, fileHash(t, dst))
	assertNoArtifacts(t, f.remote)
	assertProgress(t, rec.snapshot(), testLargeSize)
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.MergeFallbacksTotal)-fallbacksBefore)
}

func TestUploadMergesOverSFTPWhenExecUnsupported(t *testing.T) {
	f := newFixture(t)
	f.srv.DisableExec(true)
	src := filepath.Join(f.local, "video.mp4")
	want := writeRandomFile(t, src, testLargeSize)
	dst := filepath.Join(f.remote, "video.mp4")

	// 目标已存在时被覆盖
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0o644))

	fallbacksBefore := promtest.ToFloat64(metrics.MergeFallbacksTotal)
	rec := &progressRecorder{}
	require.NoError(t, f.engine.Upload(context.Background(), f.request(src, dst, rec)))

	assert.Equal(t, want, fileHash(t, dst))
	assertNoArtifacts(t, f.remote)
	assertProgress(t, rec.snapshot(), testLargeSize)
	assert.Empty(t, f.srv.Commands())
	assert.Zero(t, promtest.ToFloat64(metrics.MergeFallbacksTotal)-fallbacksBefore)
}

func TestUploadSmallFileSkipsChunking(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.local, "notes.txt")
	want := writeRandomFile(t, src, 4096)
	dst := filepath.Join(f.remote, "notes.txt")

	rec := &progressRecorder{}
	require.NoError(t, f.engine.Upload(context.Background(), f.request(src, dst, rec)))

	assert.Equal(t, want, fileHash(t, dst))
	assert.Empty(t, f.srv.Commands())
	assertProgress(t, rec.snapshot(), 4096)
}

func TestUploadAtThresholdUsesChunks(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.local, "exact.bin")
	want := writeRandomFile(t, src, f.opts.SizeThreshold)
	dst := filepath.Join(f.remote, "exact.bin")

	require.NoError(t, f.engine.Upload(context.Background(), f.request(src, dst, nil)))
	assert.Equal(t, want, fileHash(t, dst))
	assert.Len(t, mergeCommands(f.srv.Commands()), 1)
}

func TestUploadZeroByteFile(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.local, "empty")
	require.NoError(t, os.WriteFile(src, nil, 0o644))
	dst := filepath.Join(f.remote, "empty")

	rec := &progressRecorder{}
	require.NoError(t, f.engine.Upload(context.Background(), f.request(src, dst, rec)))

	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Zero(t, st.Size())
	assert.Equal(t, [][2]int64{{0, 0}, {0, 0}}, rec.snapshot())
}

func TestDownloadZeroByteFile(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.remote, "empty")
	require.NoError(t, os.WriteFile(src, nil, 0o644))
	dst := filepath.Join(f.local, "empty")

	require.NoError(t, f.engine.Download(context.Background(), f.request(dst, src, nil)))
	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Zero(t, st.Size())
}

func TestUploadIntoRemoteDirectory(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.local, "report.csv")
	want := writeRandomFile(t, src, 1024)

	require.NoError(t, f.engine.Upload(context.Background(), f.request(src, f.remote, nil)))
	assert.Equal(t, want, fileHash(t, filepath.Join(f.remote, "report.csv")))
}

func TestDownloadIntoLocalDirectory(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.remote, "report.csv")
	want := writeRandomFile(t, src, 1024)

	require.NoError(t, f.engine.Download(context.Background(), f.request(f.local, src, nil)))
	assert.Equal(t, want, fileHash(t, filepath.Join(f.local, "report.csv")))
}

func TestTransferPreservesMode(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.local, "run.sh")
	writeRandomFile(t, src, 512)
	require.NoError(t, os.Chmod(src, 0o750))
	dst := filepath.Join(f.remote, "run.sh")

	require.NoError(t, f.engine.Upload(context.Background(), f.request(src, dst, nil)))
	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), st.Mode().Perm())

	require.NoError(t, os.Chmod(dst, 0o600))
	back := filepath.Join(f.local, "run-copy.sh")
	require.NoError(t, f.engine.Download(context.Background(), f.request(back, dst, nil)))
	st, err = os.Stat(back)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestUploadAbort(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.local, "big.bin")
	writeRandomFile(t, src, testLargeSize)
	dst := filepath.Join(f.remote, "big.bin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := f.request(src, dst, nil)
	req.Progress = func(transferred, _ int64) {
		if transferred > 0 {
			cancel()
		}
	}

	err := f.engine.Upload(ctx, req)
	require.ErrorIs(t, err, ErrAborted)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)
	assertNoArtifacts(t, f.remote)
	assert.Zero(t, f.pool.Status().Active, "aborted workers must release their sessions")

	entries, err := os.ReadDir(f.opts.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadAbort(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.remote, "big.bin")
	writeRandomFile(t, src, testLargeSize)
	dst := filepath.Join(f.local, "big.bin")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := f.request(dst, src, nil)
	req.Progress = func(transferred, _ int64) {
		if transferred > 0 {
			cancel()
		}
	}

	err := f.engine.Download(ctx, req)
	require.ErrorIs(t, err, ErrAborted)
	assertNoArtifacts(t, f.opts.TempDir)
	assert.Zero(t, f.pool.Status().Active)
}

func TestUploadChunkFailureCleansUpWithoutFallback(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.local, "big.bin")
	writeRandomFile(t, src, testLargeSize)
	dst := filepath.Join(f.remote, "missing-dir", "big.bin")

	err := f.engine.Upload(context.Background(), f.request(src, dst, nil))
	require.ErrorIs(t, err, ErrChunkTransfer)
	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.NotErrorIs(t, err, ErrAborted)
	assert.Empty(t, f.srv.Commands())
}

func TestDownloadMissingRemoteFile(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Download(context.Background(), f.request(filepath.Join(f.local, "x"), filepath.Join(f.remote, "nope"), nil))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCleanupRemoteChunksIsIdempotent(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.remote, "data.bin")
	parts := remoteArtifacts(target, 4)
	for _, p := range parts[:3] {
		require.NoError(t, os.WriteFile(p.Path, []byte("x"), 0o644))
	}
	req := f.request("", target, nil)

	require.NoError(t, f.engine.cleanupRemoteChunks(context.Background(), req, parts))
	require.NoError(t, f.engine.cleanupRemoteChunks(context.Background(), req, parts))
	assertNoArtifacts(t, f.remote)
}

func TestMergeRemoteSequentialSortsByIndex(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.remote, "data.bin")
	parts := remoteArtifacts(target, 3)
	data := []string{"zero-", "one-", "two"}
	for i, p := range parts {
		require.NoError(t, os.WriteFile(p.Path, []byte(data[i]), 0o644))
	}

	s, err := f.pool.Acquire(context.Background(), f.srv.HostDescriptor(), f.srv.Identity())
	require.NoError(t, err)
	defer s.Release()

	arrival := []Artifact{parts[2], parts[0], parts[1]}
	require.NoError(t, mergeRemoteSequential(s.SFTP(), target, arrival, logger.Discard()))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "zero-one-two", string(got))
	assertNoArtifacts(t, f.remote)
}
