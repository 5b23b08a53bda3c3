package ssh

import "errors"

var (
	// ErrConnectTimeout 表示在超时时间内未能完成 TCP 连接或握手
	ErrConnectTimeout = errors.New("ssh connect timeout")
	// ErrAuthFailed 表示服务器拒绝了所有认证方式
	ErrAuthFailed = errors.New("ssh authentication failed")
	// ErrUnsupportedAuth 表示认证信息不完整或类型未知
	ErrUnsupportedAuth = errors.New("unsupported auth")
	// ErrExecUnsupported 表示服务器不允许打开 exec 通道
	ErrExecUnsupported = errors.New("remote exec unsupported")
)
