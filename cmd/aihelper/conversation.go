package main

import (
	"fmt"
	"io"
	"strconv"

	"aihelper-go/internal/model"

	"github.com/spf13/cobra"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("无效的ID: %s", s)
	}
	return id, nil
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出所有会话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			if err := a.conversations.FetchConversations(cmd.Context()); err != nil {
				return err
			}
			snap := a.conversations.Snapshot()
			if len(snap.Conversations) == 0 {
				fmt.Fprintln(a.out, "还没有会话")
				return nil
			}
			for _, c := range snap.Conversations {
				fmt.Fprintf(a.out, "%6d  %-16s  %-12s  %s\n", c.ID, c.UpdatedAt, c.Model, c.Title)
			}
			return nil
		},
	}
}

func newHistoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <会话ID>",
		Short: "显示会话的消息",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			msgs, err := a.conversations.FetchConversationMessages(cmd.Context(), id)
			if err != nil {
				return err
			}
			printMessages(a.out, msgs)
			return nil
		},
	}
}

func printMessages(w io.Writer, msgs []model.Message) {
	for _, m := range msgs {
		printMessage(w, m)
	}
}

func printMessage(w io.Writer, m model.Message) {
	who := "助手"
	if m.Role == model.RoleUser {
		who = "我"
	}
	fmt.Fprintf(w, "[%d] %s:\n", m.ID, who)
	if m.ReasoningContent != "" {
		fmt.Fprintf(w, "  (思考) %s\n", m.ReasoningContent)
	}
	fmt.Fprintln(w, m.Content)
	for _, img := range m.Images {
		fmt.Fprintf(w, "  [图片] %s", img.OriginalFileName)
		if img.OCRText != "" {
			fmt.Fprintf(w, " %s", img.OCRText)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

func newRenameCommand(a *app) *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "rename <会话ID> [标题]",
		Short: "修改会话标题，--generate 时由服务器生成",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if generate {
				conv, err := a.conversations.GenerateTitle(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "新标题: %s\n", conv.Title)
				return nil
			}
			if len(args) < 2 {
				return fmt.Errorf("请提供标题或使用 --generate")
			}
			if err := a.conversations.UpdateConversationTitle(cmd.Context(), id, args[1]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "标题已更新")
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "根据会话内容自动生成标题")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <会话ID>",
		Short: "删除会话",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.conversations.DeleteConversation(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "会话已删除")
			return nil
		},
	}
}

func newDeleteMessageCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-message <消息ID>",
		Short: "删除一条消息",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.conversations.DeleteMessage(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "消息已删除")
			return nil
		},
	}
}
