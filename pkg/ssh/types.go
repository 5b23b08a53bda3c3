package ssh

import (
	"context"
	"net"
)

// Dialer 定义网络连接行为的接口
// 测试中可以替换为自定义实现
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}
