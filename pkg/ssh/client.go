package ssh

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/wentf9/xops-xfer/pkg/models"
	"golang.org/x/crypto/ssh"
)

// ExitError 远程命令已执行但返回非零退出码
type ExitError = ssh.ExitError

type Client struct {
	sshClient *ssh.Client
	host      models.Host
}

func NewClient(raw *ssh.Client, host models.Host) *Client {
	return &Client{
		sshClient: raw,
		host:      host,
	}
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.sshClient.Close()
}

// Wait 阻塞直到底层连接断开 (对端关闭/网络错误/本地 Close)
func (c *Client) Wait() error {
	return c.sshClient.Wait()
}

// SSHClient 暴露底层的 ssh.Client (供 SFTP 子系统使用)
func (c *Client) SSHClient() *ssh.Client {
	return c.sshClient
}

// Host 返回当前连接对应的主机
func (c *Client) Host() models.Host {
	return c.host
}

// Run 通过 exec 通道执行命令, 返回合并后的 stdout/stderr
// 无法打开会话或服务器拒绝 exec 请求时返回 ErrExecUnsupported;
// 命令执行了但退出码非零时返回 *ExitError
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecUnsupported, err)
	}
	defer session.Close()

	return startWithTimeout(ctx, session, cmd)
}

func startWithTimeout(ctx context.Context, session *ssh.Session, command string) (string, error) {
	// 1. 准备输出流, stdout 和 stderr 都被完整读取, 避免窗口写满导致远端阻塞
	var b bytes.Buffer
	w := &syncWriter{buf: &b}
	session.Stdout = w
	session.Stderr = w

	// 2. 使用 Start 异步启动命令
	if err := session.Start(command); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecUnsupported, err)
	}
	// 3. 创建一个通道来接收 Wait 的结果
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	// 4. 等待命令完成或上下文取消
	select {
	case err := <-done:
		if err != nil {
			return w.String(), fmt.Errorf("failed to run command: %w, output: %s", err, w.String())
		}
		return w.String(), nil
	case <-ctx.Done():
		// 上下文取消，尝试终止命令
		_ = session.Signal(ssh.SIGKILL)
		return w.String(), ctx.Err()
	}
}

// syncWriter stdout 与 stderr 由不同协程写入, 需要加锁
type syncWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
