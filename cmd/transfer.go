package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/wentf9/xops-xfer/cmd/utils"
	"github.com/wentf9/xops-xfer/global"
	"github.com/wentf9/xops-xfer/pkg/config"
	"github.com/wentf9/xops-xfer/pkg/logger"
	"github.com/wentf9/xops-xfer/pkg/models"
	"github.com/wentf9/xops-xfer/pkg/pool"
	"github.com/wentf9/xops-xfer/pkg/transfer"
)

// AuthOptions 命令行提供的认证信息, 优先于配置文件
type AuthOptions struct {
	Password string
	KeyFile  string
	KeyPass  string
	Agent    bool
}

func (o *AuthOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Password, "password", "P", "", "SSH密码")
	cmd.Flags().StringVarP(&o.KeyFile, "key", "i", "", "SSH私钥文件路径")
	cmd.Flags().StringVarP(&o.KeyPass, "key_pass", "W", "", "SSH私钥密码")
	cmd.Flags().BoolVar(&o.Agent, "agent", false, "使用 ssh-agent 认证")
	cmd.MarkFlagsMutuallyExclusive("password", "key", "agent")
}

// resolve 把 [user@]host[:port] 解析为主机和认证信息
// 先在配置文件中按名称/别名/user@host:port 查找, 找不到时按参数构造
func (o *AuthOptions) resolve(provider *config.Provider, target string) (models.Host, models.Identity, error) {
	u, h, p := utils.ParseAddr(target)
	if h == "" {
		return models.Host{}, models.Identity{}, fmt.Errorf("无效的主机地址: %s", target)
	}

	var host models.Host
	var identity models.Identity
	entry, ok := provider.Find(h)
	if !ok && u != "" {
		port := p
		if port == 0 {
			port = 22
		}
		entry, ok = provider.Find(fmt.Sprintf("%s@%s:%d", u, h, port))
	}
	if ok {
		host, identity = entry.Host, entry.Identity
	} else {
		host = models.Host{Address: h}
	}
	if u != "" {
		host.User = u
	}
	if p != 0 {
		host.Port = int(p)
	}
	if host.User == "" {
		host.User = utils.GetCurrentUser()
	}

	switch {
	case o.Password != "":
		identity = models.Identity{AuthType: models.AuthPassword, Password: o.Password}
	case o.KeyFile != "":
		identity = models.Identity{AuthType: models.AuthKey, KeyPath: o.KeyFile, Passphrase: o.KeyPass}
	case o.Agent:
		identity = models.Identity{AuthType: models.AuthAgent}
	}
	if identity.AuthType != "" {
		return host, identity, nil
	}

	if os.Getenv("SSH_AUTH_SOCK") != "" {
		return host, models.Identity{AuthType: models.AuthAgent}, nil
	}
	if !global.IsTerminal {
		return host, identity, fmt.Errorf("未提供 %s 的认证信息", host.Key())
	}
	password, err := utils.ReadPasswordFromTerminal(fmt.Sprintf("%s's password: ", host.Key()))
	if err != nil {
		return host, identity, fmt.Errorf("读取密码失败: %w", err)
	}
	return host, models.Identity{AuthType: models.AuthPassword, Password: password}, nil
}

// TransferOptions put/get 共用的参数
type TransferOptions struct {
	AuthOptions
	ChunkSize   int64
	Concurrency int
	Threshold   int64
	TempDir     string
	Progress    bool

	upload bool
	local  string
	target string
	remote string
	args   []string
}

func newTransferOptions(upload bool) *TransferOptions {
	return &TransferOptions{upload: upload, Progress: global.IsTerminal}
}

func (o *TransferOptions) addFlags(cmd *cobra.Command) {
	o.AuthOptions.addFlags(cmd)
	cmd.Flags().Int64Var(&o.ChunkSize, "chunk-size", 0, "分块大小 (字节), 默认 10MiB")
	cmd.Flags().IntVar(&o.Concurrency, "concurrency", 0, "同时传输的分块数, 默认 5")
	cmd.Flags().Int64Var(&o.Threshold, "threshold", 0, "文件大小达到该值 (字节) 时分块传输, 默认 100MiB")
	cmd.Flags().StringVar(&o.TempDir, "temp-dir", "", "本地临时目录")
	cmd.Flags().BoolVar(&o.Progress, "progress", o.Progress, "显示传输进度")
}

func (o *TransferOptions) Complete(cmd *cobra.Command, args []string) {
	o.args = args
}

func (o *TransferOptions) Validate() error {
	if len(o.args) != 2 {
		return fmt.Errorf("期望两个参数，但提供了 %d 个", len(o.args))
	}
	remoteArg, localArg := o.args[1], o.args[0]
	if !o.upload {
		remoteArg, localArg = o.args[0], o.args[1]
	}
	if !utils.IsRemote(remoteArg) {
		return fmt.Errorf("远程路径格式应为 [user@]host[:port]:path, 实际为 %q", remoteArg)
	}
	target, remote, err := utils.SplitRemote(remoteArg)
	if err != nil {
		return err
	}
	o.target, o.remote, o.local = target, remote, localArg
	if o.ChunkSize < 0 || o.Concurrency < 0 || o.Threshold < 0 {
		return errors.New("chunk-size/concurrency/threshold 不能为负数")
	}
	return nil
}

// options 配置文件中的传输参数被命令行参数覆盖
func (o *TransferOptions) options(cfg *config.Configuration) transfer.Options {
	opts := cfg.Transfer
	if o.ChunkSize > 0 {
		opts.ChunkSize = o.ChunkSize
	}
	if o.Concurrency > 0 {
		opts.MaxConcurrentChunks = o.Concurrency
	}
	if o.Threshold > 0 {
		opts.SizeThreshold = o.Threshold
	}
	if o.TempDir != "" {
		opts.TempDir = o.TempDir
	}
	return opts
}

func (o *TransferOptions) Run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	host, identity, err := o.resolve(config.NewProvider(cfg), o.target)
	if err != nil {
		return err
	}

	p := pool.New(append(cfg.PoolOptions(), pool.WithLogger(logger.Logger.Logger))...)
	defer p.CloseAll()
	engine := transfer.NewEngine(p,
		transfer.WithOptions(o.options(cfg)),
		transfer.WithLogger(logger.Logger.Logger),
	)

	req := transfer.Request{
		Host:       host,
		Identity:   identity,
		LocalPath:  o.local,
		RemotePath: o.remote,
	}
	var bar *progressbar.ProgressBar
	if o.Progress {
		desc := fmt.Sprintf("上传 %s", filepath.Base(o.local))
		if !o.upload {
			desc = fmt.Sprintf("下载 %s", filepath.Base(o.remote))
		}
		// 回调是串行的, 首次回调时才知道总大小
		req.Progress = func(transferred, total int64) {
			if bar == nil {
				bar = progressbar.DefaultBytes(total, desc)
			}
			_ = bar.Set64(transferred)
		}
	}

	if o.upload {
		err = engine.Upload(ctx, req)
	} else {
		err = engine.Download(ctx, req)
	}
	if bar != nil {
		if err == nil {
			_ = bar.Finish()
		}
		fmt.Fprintln(os.Stderr)
	}
	if errors.Is(err, transfer.ErrAborted) {
		return fmt.Errorf("传输已取消: %w", err)
	}
	return err
}

func NewCmdPut() *cobra.Command {
	o := newTransferOptions(true)
	cmd := &cobra.Command{
		Use:   "put <local> [user@]host[:port]:<remote>",
		Short: "上传本地文件到远程主机",
		Long: `上传本地文件到远程主机
用法示例:
xfer put ./image.iso root@10.0.0.1:/data/
xfer put ./image.iso web1:22:/data/image.iso --chunk-size 20971520 --concurrency 8
host 可以是配置文件中的主机名或别名
远程路径是已存在的目录时, 文件上传到该目录下
文件大小达到 --threshold 时分块并发上传`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Complete(cmd, args)
			if err := o.Validate(); err != nil {
				return fmt.Errorf("参数错误: %v", err)
			}
			return o.Run(cmd.Context())
		},
	}
	o.addFlags(cmd)
	return cmd
}

func NewCmdGet() *cobra.Command {
	o := newTransferOptions(false)
	cmd := &cobra.Command{
		Use:   "get [user@]host[:port]:<remote> <local>",
		Short: "从远程主机下载文件",
		Long: `从远程主机下载文件
用法示例:
xfer get root@10.0.0.1:/data/dump.sql ./
xfer get web1:/var/log/big.log /tmp/big.log --progress
本地路径是已存在的目录时, 文件下载到该目录下`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Complete(cmd, args)
			if err := o.Validate(); err != nil {
				return fmt.Errorf("参数错误: %v", err)
			}
			return o.Run(cmd.Context())
		},
	}
	o.addFlags(cmd)
	return cmd
}

func loadConfig() (*config.Configuration, error) {
	path := configFile
	if path == "" {
		path = utils.GetConfigFilePath()
	}
	cfg, err := config.NewDefaultStore(path).Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置文件失败: %w", err)
	}
	return cfg, nil
}
