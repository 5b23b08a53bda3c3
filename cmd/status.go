package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/wentf9/xops-xfer/pkg/config"
	"github.com/wentf9/xops-xfer/pkg/logger"
	"github.com/wentf9/xops-xfer/pkg/pool"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// StatusOptions 连接到给定主机并打印连接池快照, 用于排查连接问题
type StatusOptions struct {
	AuthOptions
	Sessions int
	args     []string
}

func NewCmdStatus() *cobra.Command {
	o := &StatusOptions{Sessions: 1}
	cmd := &cobra.Command{
		Use:   "status [user@]host[:port] ...",
		Short: "连接主机并显示连接池状态",
		Long: `连接到给定主机并显示连接池状态
用法示例:
xfer status web1 root@10.0.0.2 --sessions 3
每个主机同时打开 --sessions 个会话, 打印快照后全部关闭`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.args = args
			if len(o.args) == 0 {
				return errors.New("参数错误: 未提供主机地址")
			}
			return o.Run(cmd.Context())
		},
	}
	o.AuthOptions.addFlags(cmd)
	cmd.Flags().IntVar(&o.Sessions, "sessions", 1, "每个主机同时打开的会话数")
	return cmd
}

func (o *StatusOptions) Run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider := config.NewProvider(cfg)
	p := pool.New(append(cfg.PoolOptions(), pool.WithLogger(logger.Logger.Logger))...)
	defer p.CloseAll()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		held []*pool.Session
	)
	for _, target := range o.args {
		host, identity, err := o.resolve(provider, target)
		if err != nil {
			return err
		}
		for range max(o.Sessions, 1) {
			g.Go(func() error {
				s, err := p.Acquire(ctx, host, identity)
				if err != nil {
					return fmt.Errorf("%s: %w", host.Key(), err)
				}
				// 打印快照之后再归还, 让快照里能看到同时打开的会话
				mu.Lock()
				held = append(held, s)
				mu.Unlock()
				return nil
			})
		}
	}
	err = g.Wait()

	out, merr := yaml.Marshal(p.Status())
	if merr != nil {
		return merr
	}
	fmt.Fprint(os.Stdout, string(out))
	for _, s := range held {
		s.Release()
	}
	return err
}
