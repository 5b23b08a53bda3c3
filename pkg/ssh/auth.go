package ssh

import (
	"fmt"
	"net"
	"os"

	"github.com/wentf9/xops-xfer/pkg/models"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AuthMethod 定义获取 SSH 认证方法的接口
type AuthMethod interface {
	GetMethod() (ssh.AuthMethod, error)
}

// PasswordAuth 实现密码认证
type PasswordAuth struct {
	Password string
}

func (p *PasswordAuth) GetMethod() (ssh.AuthMethod, error) {
	if p.Password == "" {
		return nil, fmt.Errorf("%w: auth type is password but password is empty", ErrUnsupportedAuth)
	}
	return ssh.Password(p.Password), nil
}

// KeyAuth 实现私钥认证
type KeyAuth struct {
	Path       string
	Passphrase string
}

func (k *KeyAuth) GetMethod() (ssh.AuthMethod, error) {
	if k.Path == "" {
		return nil, fmt.Errorf("%w: auth type is key but key_path is empty", ErrUnsupportedAuth)
	}
	keyData, err := os.ReadFile(expandHomeDir(k.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var signer ssh.Signer
	if k.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(k.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// AgentAuth 通过 SSH_AUTH_SOCK 指向的 ssh-agent 认证
// agent 只在握手期间使用, 握手结束后由 Connect 调用 Close 断开
type AgentAuth struct {
	Socket string // 为空时读取环境变量 SSH_AUTH_SOCK

	conn net.Conn
}

func (a *AgentAuth) GetMethod() (ssh.AuthMethod, error) {
	sock := a.Socket
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	if sock == "" {
		return nil, fmt.Errorf("%w: SSH_AUTH_SOCK is not set", ErrUnsupportedAuth)
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ssh-agent: %w", err)
	}
	if a.conn != nil {
		a.conn.Close()
	}
	a.conn = conn
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// Close 断开与 ssh-agent 的连接
func (a *AgentAuth) Close() error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// AuthFromIdentity 根据 Identity 选择对应的认证实现
func AuthFromIdentity(id models.Identity) (AuthMethod, error) {
	switch id.AuthType {
	case models.AuthPassword:
		return &PasswordAuth{Password: id.Password}, nil
	case models.AuthKey:
		return &KeyAuth{Path: id.KeyPath, Passphrase: id.Passphrase}, nil
	case models.AuthAgent:
		return &AgentAuth{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAuth, id.AuthType)
	}
}

// expandHomeDir 简单的路径处理辅助函数
func expandHomeDir(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + path[1:]
		}
	}
	return path
}
