package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/wentf9/xops-xfer/cmd/version"
	"github.com/wentf9/xops-xfer/pkg/logger"
	"github.com/wentf9/xops-xfer/pkg/metrics"
)

var (
	configFile  string
	metricsFile string
	registry    = prometheus.NewRegistry()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xfer [command] [flags]",
	Short: "xfer 通过 SSH/SFTP 在本地和远程主机之间传输文件",
	Long: `xfer 通过 SSH/SFTP 在本地和远程主机之间传输文件。
大文件会被切分为多个分块, 通过连接池中的多个会话并发传输, 再在目标端合并;
远端不支持执行合并命令时自动改用 SFTP 顺序合并, 合并失败时退回整文件传输。`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			version.PrintFullVersion()
			return nil
		}
		return cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if debugFlag {
			logger.Logger.SetLogLevel("debug")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Ctrl+C 取消正在进行的传输
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if metricsFile != "" {
		if werr := metrics.WriteTextfile(metricsFile, registry); werr != nil {
			fmt.Fprintf(os.Stderr, "写入指标文件失败: %v\n", werr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	metrics.Register(registry)

	rootCmd.Flags().BoolP("version", "v", false, "显示版本信息")
	rootCmd.PersistentFlags().Bool("debug", false, "开启调试模式")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径 (默认 ~/.xfer/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "退出时以 textfile 格式写入 prometheus 指标")

	rootCmd.AddCommand(NewCmdPut())
	rootCmd.AddCommand(NewCmdGet())
	rootCmd.AddCommand(NewCmdStatus())
	rootCmd.AddCommand(NewCmdConfig())
	rootCmd.AddCommand(NewCmdVersion())
}
