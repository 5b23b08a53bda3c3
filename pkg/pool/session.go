package pool

import (
	"time"

	"github.com/pkg/sftp"
	xssh "github.com/wentf9/xops-xfer/pkg/ssh"
)

// Session 一条认证过的 SSH 连接加上它的 SFTP 子通道
// 同一时刻要么空闲, 要么只被一个调用方借用, 要么已经被移除
type Session struct {
	ID      string
	HostKey string

	client    *xssh.Client
	transfer  *sftp.Client
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
	ready     bool

	hp   *hostPool
	pool *Pool
	done chan struct{} // 会话被移除时关闭
}

// SSH 返回底层 SSH 连接 (用于 exec)
func (s *Session) SSH() *xssh.Client {
	return s.client
}

// SFTP 返回 SFTP 子通道, 子通道已断开时为 nil
func (s *Session) SFTP() *sftp.Client {
	s.hp.mu.Lock()
	defer s.hp.mu.Unlock()
	return s.transfer
}

// Transfer 返回可用的 SFTP 子通道, 借出期间子通道断开时重新打开
func (s *Session) Transfer() (*sftp.Client, error) {
	if transfer := s.SFTP(); transfer != nil {
		return transfer, nil
	}
	return s.pool.ensureTransfer(s)
}

// CreatedAt 返回会话建立时间
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Release 归还会话, 等价于 pool.Release(s.HostKey, s.ID)
func (s *Session) Release() {
	s.pool.Release(s.HostKey, s.ID)
}

// Done 会话被移除 (断开/淘汰/强制关闭) 时关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// close 关闭子通道和连接, 错误只记录日志
func (s *Session) close(transfer *sftp.Client) {
	if transfer != nil {
		if err := transfer.Close(); err != nil {
			s.pool.log.Debug("close sftp channel failed", "host", s.HostKey, "session", s.ID, "error", err)
		}
	}
	if err := s.client.Close(); err != nil {
		s.pool.log.Debug("close ssh connection failed", "host", s.HostKey, "session", s.ID, "error", err)
	}
}
