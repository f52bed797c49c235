package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "把所有会话和消息归档到 MySQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			if a.archive == nil {
				return errors.New("未启用归档，请在配置中设置 archive.enabled 和 archive.dsn")
			}
			n, err := a.archive.ExportAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "已归档 %d 个会话\n", n)
			return nil
		},
	}
}
