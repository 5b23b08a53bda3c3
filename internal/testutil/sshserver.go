package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"github.com/wentf9/xops-xfer/pkg/models"
	"golang.org/x/crypto/ssh"
)

const (
	TestUser     = "tester"
	TestPassword = "secret"
)

// ExecHandler 拦截 exec 请求; handled 为 false 时按正常流程用 sh -c 执行
type ExecHandler func(cmd string) (status int, handled bool)

// SSHServer 进程内的 SSH 服务器, 提供 sftp 子系统 (直接读写本地文件系统) 和 exec
type SSHServer struct {
	Host string
	Port int

	listener net.Listener
	config   *ssh.ServerConfig

	mu          sync.Mutex
	conns       []*ssh.ServerConn
	execHandler ExecHandler
	commands    []string
	authorized  []ssh.PublicKey

	accepted     atomic.Int64
	execDisabled atomic.Bool
	wg           sync.WaitGroup
}

// NewSSHServer 在 127.0.0.1 随机端口启动服务器, 测试结束时自动关闭
func NewSSHServer(t *testing.T) *SSHServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}
	s := &SSHServer{}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == TestUser && string(pass) == TestPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: s.checkPublicKey,
	}
	cfg.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(l.Addr().String())
	p, _ := strconv.Atoi(port)
	s.Host = host
	s.Port = p
	s.listener = l
	s.config = cfg
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// HostDescriptor 返回指向该服务器的主机描述
func (s *SSHServer) HostDescriptor() models.Host {
	return models.Host{Address: s.Host, Port: s.Port, User: TestUser}
}

// Identity 返回能通过认证的凭据
func (s *SSHServer) Identity() models.Identity {
	return models.Identity{AuthType: models.AuthPassword, Password: TestPassword}
}

// AuthorizeKey 允许 TestUser 使用该公钥登录
func (s *SSHServer) AuthorizeKey(pub ssh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = append(s.authorized, pub)
}

func (s *SSHServer) checkPublicKey(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.User() == TestUser {
		for _, k := range s.authorized {
			if bytes.Equal(k.Marshal(), key.Marshal()) {
				return nil, nil
			}
		}
	}
	return nil, fmt.Errorf("public key rejected for %q", c.User())
}

// Accepted 返回完成握手的连接数
func (s *SSHServer) Accepted() int {
	return int(s.accepted.Load())
}

// DisableExec 使服务器拒绝所有 exec 请求
func (s *SSHServer) DisableExec(disabled bool) {
	s.execDisabled.Store(disabled)
}

// SetExecHandler 设置 exec 拦截函数
func (s *SSHServer) SetExecHandler(h ExecHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execHandler = h
}

// Commands 返回收到过的 exec 命令
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// DropConnections 从服务端断开所有已建立的连接
func (s *SSHServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Close 停止监听并断开所有连接
func (s *SSHServer) Close() {
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *SSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *SSHServer) handleConn(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	s.accepted.Add(1)
	s.mu.Lock()
	s.conns = append(s.conns, sconn)
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *SSHServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go serveSFTP(ch)
		case "exec":
			var payload struct{ Command string }
			if s.execDisabled.Load() || ssh.Unmarshal(req.Payload, &payload) != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go s.runExec(ch, payload.Command)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func serveSFTP(ch ssh.Channel) {
	defer ch.Close()
	server, err := sftp.NewServer(ch)
	if err != nil {
		return
	}
	_ = server.Serve()
}

func (s *SSHServer) runExec(ch ssh.Channel, cmd string) {
	defer ch.Close()
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	handler := s.execHandler
	s.mu.Unlock()

	status, handled := 0, false
	if handler != nil {
		status, handled = handler(cmd)
	}
	if !handled {
		c := exec.Command("sh", "-c", cmd)
		c.Stdout = ch
		c.Stderr = ch.Stderr()
		if err := c.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				status = exitErr.ExitCode()
			} else {
				status = 127
			}
		}
	}
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}
