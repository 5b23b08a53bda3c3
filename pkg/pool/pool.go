package pool

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/wentf9/xops-xfer/pkg/logger"
	"github.com/wentf9/xops-xfer/pkg/metrics"
	"github.com/wentf9/xops-xfer/pkg/models"
	xssh "github.com/wentf9/xops-xfer/pkg/ssh"
	"github.com/wentf9/xops-xfer/pkg/utils/concurrent"
)

const (
	DefaultMaxPerHost     = 10
	DefaultAcquireTimeout = 5 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultSweepInterval  = 2 * time.Minute
)

// Option 定义连接池的配置函数
type Option func(*Pool)

// WithMaxPerHost 单个主机的最大会话数
func WithMaxPerHost(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxPerHost = n
		}
	}
}

// WithAcquireTimeout 主机会话数已满时等待空闲会话的最长时间
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.acquireTimeout = d
		}
	}
}

// WithIdleTimeout 空闲超过该时长的会话会被后台清理
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.idleTimeout = d
		}
	}
}

// WithSweepInterval 后台清理的周期
func WithSweepInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.sweepInterval = d
		}
	}
}

// WithKeepAlive 为每个会话开启心跳, 0 表示关闭
func WithKeepAlive(d time.Duration) Option {
	return func(p *Pool) {
		p.keepAlive = d
	}
}

// WithConnector 替换建立连接使用的 Connector
func WithConnector(c *xssh.Connector) Option {
	return func(p *Pool) {
		if c != nil {
			p.connector = c
		}
	}
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// Pool 按主机缓存已认证的 SSH/SFTP 会话
// 进程内通常只创建一个, 由调用方负责在退出前调用 CloseAll
type Pool struct {
	connector      *xssh.Connector
	hosts          *concurrent.Map[string, *hostPool]
	maxPerHost     int
	acquireTimeout time.Duration
	idleTimeout    time.Duration
	sweepInterval  time.Duration
	keepAlive      time.Duration
	log            *slog.Logger

	closed    atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	sweepDone chan struct{}
}

// hostPool 单个主机的会话列表
type hostPool struct {
	mu       sync.Mutex
	sessions []*Session
	pending  int           // 正在建立中的连接, 计入上限
	changed  chan struct{} // 会话被归还或移除时关闭并替换, 唤醒等待者
}

func (hp *hostPool) notifyLocked() {
	close(hp.changed)
	hp.changed = make(chan struct{})
}

// New 创建连接池并启动后台空闲清理
func New(opts ...Option) *Pool {
	p := &Pool{
		hosts:          concurrent.NewMap[string, *hostPool](concurrent.HashString),
		maxPerHost:     DefaultMaxPerHost,
		acquireTimeout: DefaultAcquireTimeout,
		idleTimeout:    DefaultIdleTimeout,
		sweepInterval:  DefaultSweepInterval,
		log:            logger.Logger.Logger,
		stop:           make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.connector == nil {
		p.connector = xssh.NewConnector()
	}
	go p.sweepLoop()
	return p
}

func (p *Pool) entry(key string) *hostPool {
	if hp, ok := p.hosts.Get(key); ok {
		return hp
	}
	hp, _ := p.hosts.SetIfAbsent(key, &hostPool{changed: make(chan struct{})})
	return hp
}

// Acquire 借出 host 的一个会话, 调用方用完后必须 Release
//  1. 有空闲会话: 直接复用 (子通道断开时先重新打开)
//  2. 未达上限: 新建连接
//  3. 已达上限: 等待其他调用方归还, 超时返回 ErrPoolTimeout
func (p *Pool) Acquire(ctx context.Context, host models.Host, id models.Identity) (*Session, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	key := host.Key()
	hp := p.entry(key)

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	for {
		hp.mu.Lock()
		if p.closed.Load() {
			hp.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if s := hp.idleLocked(); s != nil {
			s.inUse = true
			s.lastUsed = time.Now()
			hp.mu.Unlock()
			if _, err := p.ensureTransfer(s); err != nil {
				// 子通道打不开, 说明连接已不可用; 丢弃后重新走一遍
				p.log.Debug("reopen sftp channel failed, dropping session", "host", key, "session", s.ID, "error", err)
				p.remove(s, "broken")
				continue
			}
			p.log.Debug("reuse pooled session", "host", key, "session", s.ID)
			p.updateGauges()
			return s, nil
		}

		if len(hp.sessions)+hp.pending < p.maxPerHost {
			hp.pending++
			hp.mu.Unlock()

			s, err := p.create(ctx, key, hp, host, id)

			hp.mu.Lock()
			hp.pending--
			if err != nil {
				hp.notifyLocked()
				hp.mu.Unlock()
				return nil, err
			}
			if p.closed.Load() {
				transfer := s.detachLocked()
				hp.mu.Unlock()
				s.close(transfer)
				return nil, ErrPoolClosed
			}
			hp.sessions = append(hp.sessions, s)
			hp.mu.Unlock()

			go p.watch(s)
			metrics.PoolSessionsCreatedTotal.Inc()
			p.updateGauges()
			return s, nil
		}

		wait := hp.changed
		hp.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			metrics.PoolAcquireTimeoutsTotal.Inc()
			return nil, fmt.Errorf("%w: host %s has %d sessions in use", ErrPoolTimeout, key, p.maxPerHost)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.stop:
			return nil, ErrPoolClosed
		}
	}
}

func (hp *hostPool) idleLocked() *Session {
	for _, s := range hp.sessions {
		if !s.inUse && s.ready {
			return s
		}
	}
	return nil
}

// create 建立连接并打开 SFTP 子通道, 失败时不会注册任何东西
func (p *Pool) create(ctx context.Context, key string, hp *hostPool, host models.Host, id models.Identity) (*Session, error) {
	p.log.Debug("open new session", "host", key, "addr", host.Addr(), "identity", id)
	client, err := p.connector.Connect(ctx, host, id)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", key, err)
	}
	transfer, err := sftp.NewClient(client.SSHClient())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create sftp subsystem on %s: %w", key, err)
	}
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		HostKey:   key,
		client:    client,
		transfer:  transfer,
		createdAt: now,
		lastUsed:  now,
		inUse:     true,
		ready:     true,
		hp:        hp,
		pool:      p,
		done:      make(chan struct{}),
	}
	go p.watchTransfer(s, transfer)
	xssh.StartKeepAlive(client, p.keepAlive, s.done, func(err error) {
		p.log.Warn("keepalive failed", "host", key, "session", s.ID, "error", err)
	})
	return s, nil
}

// ensureTransfer 会话已借出 (inUse) 时调用, 子通道缺失则重新打开
func (p *Pool) ensureTransfer(s *Session) (*sftp.Client, error) {
	s.hp.mu.Lock()
	current := s.transfer
	s.hp.mu.Unlock()
	if current != nil {
		return current, nil
	}
	transfer, err := sftp.NewClient(s.client.SSHClient())
	if err != nil {
		return nil, err
	}
	s.hp.mu.Lock()
	if !s.ready {
		s.hp.mu.Unlock()
		transfer.Close()
		return nil, ErrSessionGone
	}
	s.transfer = transfer
	s.hp.mu.Unlock()
	go p.watchTransfer(s, transfer)
	return transfer, nil
}

// watch 等待底层连接结束 (end/error), 然后把会话从池中移除
func (p *Pool) watch(s *Session) {
	err := s.client.Wait()
	select {
	case <-s.done:
		return
	default:
	}
	p.log.Debug("ssh connection ended", "host", s.HostKey, "session", s.ID, "error", err)
	p.remove(s, "closed")
}

// watchTransfer SFTP 子通道单独断开时清空引用, 下次借出时重新打开
func (p *Pool) watchTransfer(s *Session, transfer *sftp.Client) {
	err := transfer.Wait()
	s.hp.mu.Lock()
	if s.transfer == transfer {
		s.transfer = nil
	}
	s.hp.mu.Unlock()
	p.log.Debug("sftp channel ended", "host", s.HostKey, "session", s.ID, "error", err)
}

// remove 把会话从所属主机中移除并关闭, 重复调用无副作用
func (p *Pool) remove(s *Session, reason string) {
	hp := s.hp
	hp.mu.Lock()
	idx := slices.Index(hp.sessions, s)
	if idx < 0 {
		hp.mu.Unlock()
		return
	}
	hp.sessions = slices.Delete(hp.sessions, idx, idx+1)
	transfer := s.detachLocked()
	hp.notifyLocked()
	hp.mu.Unlock()

	s.close(transfer)
	metrics.PoolSessionsEvictedTotal.WithLabelValues(reason).Inc()
	p.updateGauges()
}

// detachLocked 标记会话不可用, 返回需要关闭的子通道
func (s *Session) detachLocked() *sftp.Client {
	s.ready = false
	close(s.done)
	transfer := s.transfer
	s.transfer = nil
	return transfer
}

// Release 归还会话; sessionID 为空时归还该主机第一个正在使用的会话
// 会话不存在 (已断开/已清理) 时只记录日志
func (p *Pool) Release(hostKey, sessionID string) {
	hp, ok := p.hosts.Get(hostKey)
	if !ok {
		p.log.Debug("release on unknown host", "host", hostKey, "session", sessionID)
		return
	}
	hp.mu.Lock()
	var target *Session
	for _, s := range hp.sessions {
		if (sessionID == "" && s.inUse) || (sessionID != "" && s.ID == sessionID) {
			target = s
			break
		}
	}
	if target == nil {
		hp.mu.Unlock()
		p.log.Debug("release on missing session", "host", hostKey, "session", sessionID)
		return
	}
	target.inUse = false
	target.lastUsed = time.Now()
	hp.notifyLocked()
	hp.mu.Unlock()
	p.updateGauges()
}

// CloseConnection 强制关闭并移除主机的所有会话, 无论是否在使用
func (p *Pool) CloseConnection(hostKey string) {
	hp, ok := p.hosts.Get(hostKey)
	if !ok {
		return
	}
	hp.mu.Lock()
	sessions := hp.sessions
	hp.sessions = nil
	transfers := make([]*sftp.Client, len(sessions))
	for i, s := range sessions {
		transfers[i] = s.detachLocked()
	}
	hp.notifyLocked()
	hp.mu.Unlock()

	for i, s := range sessions {
		s.close(transfers[i])
		metrics.PoolSessionsEvictedTotal.WithLabelValues("force").Inc()
	}
	if len(sessions) > 0 {
		p.log.Debug("closed host sessions", "host", hostKey, "count", len(sessions))
	}
	p.updateGauges()
}

// CloseAll 关闭所有会话并停止后台清理, 可重复调用
func (p *Pool) CloseAll() {
	p.closed.Store(true)
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.sweepDone
	for _, key := range p.hosts.Keys() {
		p.CloseConnection(key)
	}
}

func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep(time.Now())
		}
	}
}

// sweep 关闭空闲时间超过 idleTimeout 的会话
func (p *Pool) sweep(now time.Time) {
	var expired []*Session
	var transfers []*sftp.Client
	p.hosts.IterCb(func(key string, hp *hostPool) bool {
		hp.mu.Lock()
		kept := hp.sessions[:0]
		for _, s := range hp.sessions {
			if !s.inUse && now.Sub(s.lastUsed) > p.idleTimeout {
				expired = append(expired, s)
				transfers = append(transfers, s.detachLocked())
				continue
			}
			kept = append(kept, s)
		}
		removed := len(hp.sessions) - len(kept)
		clear(hp.sessions[len(kept):])
		hp.sessions = kept
		if removed > 0 {
			hp.notifyLocked()
		}
		hp.mu.Unlock()
		return true
	})
	for i, s := range expired {
		p.log.Debug("close idle session", "host", s.HostKey, "session", s.ID)
		s.close(transfers[i])
		metrics.PoolSessionsEvictedTotal.WithLabelValues("idle").Inc()
	}
	if len(expired) > 0 {
		p.updateGauges()
	}
}

func (p *Pool) updateGauges() {
	st := p.Status()
	metrics.PoolSessions.WithLabelValues("active").Set(float64(st.Active))
	metrics.PoolSessions.WithLabelValues("idle").Set(float64(st.Idle))
}
