package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/wentf9/xops-xfer/pkg/models"
	"golang.org/x/crypto/ssh"
)

// DefaultConnectTimeout 建立连接 (TCP + 握手 + 认证) 的默认超时
const DefaultConnectTimeout = 30 * time.Second

// ConnectorOption 定义 Connector 的配置函数
type ConnectorOption func(*Connector)

// WithConnectTimeout 设置连接超时
func WithConnectTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer 替换底层拨号器
func WithDialer(d Dialer) ConnectorOption {
	return func(c *Connector) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHostKeyCallback 设置主机密钥校验, 默认不校验
func WithHostKeyCallback(cb ssh.HostKeyCallback) ConnectorOption {
	return func(c *Connector) {
		if cb != nil {
			c.hostKeyCallback = cb
		}
	}
}

// Connector 负责创建 SSH 连接, 不做缓存 (缓存由连接池负责)
type Connector struct {
	timeout         time.Duration
	dialer          Dialer
	hostKeyCallback ssh.HostKeyCallback
}

// NewConnector 创建一个新的 Connector
func NewConnector(opts ...ConnectorOption) *Connector {
	c := &Connector{
		timeout:         DefaultConnectTimeout,
		dialer:          &net.Dialer{},
		hostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: 默认读取 ~/.ssh/known_hosts
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout 返回连接超时
func (c *Connector) Timeout() time.Duration {
	return c.timeout
}

// Connect 建立到 host 的认证连接
// 超时或认证失败时返回 ErrConnectTimeout / ErrAuthFailed, 不会遗留任何连接
func (c *Connector) Connect(ctx context.Context, host models.Host, id models.Identity) (*Client, error) {
	auth, err := AuthFromIdentity(id)
	if err != nil {
		return nil, err
	}
	method, err := auth.GetMethod()
	if err != nil {
		return nil, err
	}
	if closer, ok := auth.(io.Closer); ok {
		defer closer.Close()
	}
	sshConfig := &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{method},
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         c.timeout,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// 1. 建立底层 TCP 连接
	targetAddr := host.Addr()
	conn, err := c.dialer.DialContext(ctx, "tcp", targetAddr)
	if err != nil {
		return nil, classifyConnectError(ctx, fmt.Errorf("failed to dial %s: %w", targetAddr, err))
	}

	// 2. 握手与认证同样受超时约束
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	ncc, chans, reqs, err := ssh.NewClientConn(conn, targetAddr, sshConfig)
	if !stop() {
		// ctx 已经结束, conn 已被关闭
		if err == nil {
			ncc.Close()
			err = ctx.Err()
		}
	}
	if err != nil {
		conn.Close()
		return nil, classifyConnectError(ctx, fmt.Errorf("ssh handshake failed for %s: %w", targetAddr, err))
	}
	_ = conn.SetDeadline(time.Time{})

	return NewClient(ssh.NewClient(ncc, chans, reqs), host), nil
}

func classifyConnectError(ctx context.Context, err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}
	// 调用方取消时连接被 AfterFunc 关闭, 原始错误只是 "use of closed network connection"
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}
