package models

import (
	"fmt"
	"log/slog"
)

// 认证方式
const (
	AuthPassword = "password"
	AuthKey      = "key"
	AuthAgent    = "agent"
)

// Host 定义远程端点 (地址/端口/用户)
// ID 是连接池的键: 两个描述符只要 ID 相同就共享会话, 与认证信息无关
type Host struct {
	ID      string   `yaml:"-"`
	Alias   []string `yaml:"alias,omitempty"`
	Address string   `yaml:"address"` // IP 或 域名
	Port    int      `yaml:"port"`
	User    string   `yaml:"user"`
}

// Addr 返回 host:port
func (h Host) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", h.Address, port)
}

// Key 返回连接池使用的主机标识
// 未显式指定 ID 时退化为 user@host:port
func (h Host) Key() string {
	if h.ID != "" {
		return h.ID
	}
	return fmt.Sprintf("%s@%s", h.User, h.Addr())
}

// Identity 定义认证信息
type Identity struct {
	AuthType   string `yaml:"auth_type"`            // "key", "password", "agent"
	Password   string `yaml:"password,omitempty"`   // 登录密码
	KeyPath    string `yaml:"key_path,omitempty"`   // 私钥路径
	Passphrase string `yaml:"passphrase,omitempty"` // 私钥密码
}

// LogValue 实现 slog.LogValuer, 日志中不输出任何凭据
func (i Identity) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("auth_type", i.AuthType)}
	if i.KeyPath != "" {
		attrs = append(attrs, slog.String("key_path", i.KeyPath))
	}
	return slog.GroupValue(attrs...)
}

// String 同样隐藏凭据, 防止被 %v 打印出来
func (i Identity) String() string {
	if i.KeyPath != "" {
		return fmt.Sprintf("%s(%s)", i.AuthType, i.KeyPath)
	}
	return i.AuthType
}
