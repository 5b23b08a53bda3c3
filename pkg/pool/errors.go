package pool

import "errors"

var (
	// ErrPoolTimeout 等待空闲会话超时 (主机会话数已达上限)
	ErrPoolTimeout = errors.New("timed out waiting for a pooled session")
	// ErrPoolClosed 连接池已经关闭
	ErrPoolClosed = errors.New("connection pool is closed")
	// ErrSessionGone 会话在使用前已被移除
	ErrSessionGone = errors.New("pooled session is gone")
)
