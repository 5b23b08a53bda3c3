package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/sftp"
	"github.com/wentf9/xops-xfer/pkg/pool"
	xssh "github.com/wentf9/xops-xfer/pkg/ssh"
)

// mergeRemote 在远端把分块拼接为 target
// 优先通过 exec 执行 cat; 服务器不支持 exec 时改为通过 SFTP 顺序拼接
// exec 执行了但退出码非零或超时直接返回 ErrMergeFailed, 由调用方回退到整文件上传
// 合并阶段不响应 ctx 的取消, 只受 mergeTimeout 限制
func (e *Engine) mergeRemote(ctx context.Context, req Request, target string, parts []Artifact) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.mergeTimeout)
	defer cancel()

	err := e.withSession(ctx, req, func(s *pool.Session, fs *sftp.Client) error {
		_, err := s.SSH().Run(ctx, mergeCommand(target, parts))
		if err == nil || !errors.Is(err, xssh.ErrExecUnsupported) {
			return err
		}
		e.log.Debug("remote exec unavailable, merging over sftp", "host", s.HostKey, "target", target, "error", err)
		if serr := mergeRemoteSequential(fs, target, parts, e.log); serr != nil {
			return fmt.Errorf("sftp merge after %w: %w", err, serr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}
	return nil
}

// mergeCommand cat 'p0' 'p1' ... > 'target' && rm -f 'p0' 'p1' ...
func mergeCommand(target string, parts []Artifact) string {
	sorted := sortedArtifacts(parts)
	quoted := make([]string, len(sorted))
	for i, p := range sorted {
		quoted[i] = shellQuote(p.Path)
	}
	list := strings.Join(quoted, " ")
	return fmt.Sprintf("cat %s > %s && rm -f %s", list, shellQuote(target), list)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// mergeRemoteSequential 通过 SFTP 把分块依次写入 <target>.merging, 再重命名为 target
// 每个分块写完后立即删除
func mergeRemoteSequential(fs *sftp.Client, target string, parts []Artifact, log *slog.Logger) error {
	tmp := target + ".merging"
	out, err := fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	for _, p := range sortedArtifacts(parts) {
		if err := appendRemote(fs, out, p.Path); err != nil {
			out.Close()
			removeRemoteQuietly(fs, tmp, log)
			return fmt.Errorf("merge %s: %w", p.Path, err)
		}
		removeRemoteQuietly(fs, p.Path, log)
	}
	if err := out.Close(); err != nil {
		removeRemoteQuietly(fs, tmp, log)
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := fs.PosixRename(tmp, target); err != nil {
		// 不支持 posix-rename 扩展的服务器上, 普通 rename 不能覆盖已有文件
		log.Debug("posix rename failed, falling back to remove and rename", "target", target, "error", err)
		if err := fs.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Debug("remove existing target failed", "target", target, "error", err)
		}
		if err := fs.Rename(tmp, target); err != nil {
			removeRemoteQuietly(fs, tmp, log)
			return fmt.Errorf("rename %s to %s: %w", tmp, target, err)
		}
	}
	return nil
}

func appendRemote(fs *sftp.Client, out io.Writer, name string) error {
	in, err := fs.Open(name)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(out, in)
	return err
}

func removeRemoteQuietly(fs *sftp.Client, name string, log *slog.Logger) {
	if err := fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove remote file failed", "path", name, "error", err)
	}
}

// MergeLocal 按序号顺序把分块拼接到 dst, 每个分块拼接完立即删除
// 分块删除失败只记录日志, 不影响已写入的内容; 拼接失败时删除不完整的 dst
func MergeLocal(dst string, parts []Artifact, log *slog.Logger) (err error) {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", dst, cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	for _, p := range sortedArtifacts(parts) {
		if err := appendLocal(out, p.Path); err != nil {
			return fmt.Errorf("merge %s: %w", p.Path, err)
		}
		if err := os.Remove(p.Path); err != nil {
			log.Warn("remove merged chunk failed", "path", p.Path, "error", err)
		}
	}
	return nil
}

func appendLocal(out io.Writer, name string) error {
	in, err := os.Open(name)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(out, in)
	return err
}
