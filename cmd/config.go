package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wentf9/xops-xfer/cmd/utils"
	"github.com/wentf9/xops-xfer/pkg/config"
	"gopkg.in/yaml.v3"
)

func NewCmdConfig() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "管理配置文件",
	}
	cmd.AddCommand(newCmdConfigInit())
	cmd.AddCommand(newCmdConfigShow())
	return cmd
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return utils.GetConfigFilePath()
}

func newCmdConfigInit() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "写入默认配置文件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("配置文件 %s 已存在, 使用 --force 覆盖", path)
			}
			if err := config.NewDefaultStore(path).Save(config.DefaultConfiguration()); err != nil {
				return fmt.Errorf("写入配置文件失败: %w", err)
			}
			fmt.Printf("已写入 %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "覆盖已存在的配置文件")
	return cmd
}

func newCmdConfigShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "显示生效的配置 (不含密码)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for name, e := range cfg.Hosts.Snapshot() {
				e.Identity.Password = ""
				e.Identity.Passphrase = ""
				cfg.Hosts.Set(name, e)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}
