package config

import (
	"time"

	"github.com/wentf9/xops-xfer/pkg/models"
	"github.com/wentf9/xops-xfer/pkg/pool"
	xssh "github.com/wentf9/xops-xfer/pkg/ssh"
	"github.com/wentf9/xops-xfer/pkg/transfer"
	"github.com/wentf9/xops-xfer/pkg/utils/concurrent"
)

// Configuration 对应 yaml 文件的顶层结构
type Configuration struct {
	Transfer transfer.Options                   `yaml:"transfer"`
	Pool     PoolConfig                         `yaml:"pool"`
	Hosts    *concurrent.Map[string, HostEntry] `yaml:"hosts"`
}

// PoolConfig 连接池参数, 时长使用 time.ParseDuration 的格式 (如 30s, 5m)
type PoolConfig struct {
	MaxPerHost     int           `yaml:"max_per_host"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	KeepAlive      time.Duration `yaml:"keepalive"`
}

// HostEntry 一个命名主机: 端点和认证信息写在同一层
type HostEntry struct {
	Host     models.Host     `yaml:",inline"`
	Identity models.Identity `yaml:",inline"`
}

// DefaultConfiguration 返回全部使用默认值的配置
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Transfer: transfer.DefaultOptions(),
		Pool: PoolConfig{
			MaxPerHost:     pool.DefaultMaxPerHost,
			ConnectTimeout: xssh.DefaultConnectTimeout,
			AcquireTimeout: pool.DefaultAcquireTimeout,
			IdleTimeout:    pool.DefaultIdleTimeout,
			SweepInterval:  pool.DefaultSweepInterval,
		},
		Hosts: concurrent.NewMap[string, HostEntry](concurrent.HashString),
	}
}

// PoolOptions 把配置转换为连接池选项
func (c *Configuration) PoolOptions() []pool.Option {
	return []pool.Option{
		pool.WithMaxPerHost(c.Pool.MaxPerHost),
		pool.WithAcquireTimeout(c.Pool.AcquireTimeout),
		pool.WithIdleTimeout(c.Pool.IdleTimeout),
		pool.WithSweepInterval(c.Pool.SweepInterval),
		pool.WithKeepAlive(c.Pool.KeepAlive),
		pool.WithConnector(xssh.NewConnector(xssh.WithConnectTimeout(c.Pool.ConnectTimeout))),
	}
}
