package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wentf9/xops-xfer/cmd/version"
)

func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version.PrintFullVersion()
		},
	}
}
