package main

import (
	"fmt"

	"aihelper-go/pkg/api"

	"github.com/spf13/cobra"
)

func newProfileCommand(a *app) *cobra.Command {
	var update api.ProfileUpdate
	var changePassword, deactivate bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "修改个人资料、密码或注销账号",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			switch {
			case deactivate:
				if err := a.auth.DeactivateAccount(ctx); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "账号已注销")
				return nil
			case changePassword:
				current, err := readSecret("当前密码: ")
				if err != nil {
					return err
				}
				next, err := readSecret("新密码: ")
				if err != nil {
					return err
				}
				if err := a.users.ChangePassword(ctx, current, next); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "密码修改成功")
				return nil
			case update == (api.ProfileUpdate{}):
				return cmd.Help()
			}
			user, err := a.users.UpdateProfile(ctx, update)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "个人资料已更新：%s\n", user.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVar(&update.Nickname, "nickname", "", "新昵称")
	cmd.Flags().StringVar(&update.Email, "email", "", "新邮箱")
	cmd.Flags().StringVar(&update.Mobile, "mobile", "", "新手机号")
	cmd.Flags().BoolVar(&changePassword, "password", false, "修改密码")
	cmd.Flags().BoolVar(&deactivate, "deactivate", false, "注销账号")
	return cmd
}

func newAvatarCommand(a *app) *cobra.Command {
	var (
		generate bool
		prompt   string
		force    bool
		userID   int64
	)
	cmd := &cobra.Command{
		Use:   "avatar [图片路径或 minio://bucket/key]",
		Short: "上传、生成或刷新头像",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireLogin(); err != nil {
				return err
			}
			var (
				url string
				err error
			)
			switch {
			case len(args) == 1:
				url, err = a.users.UploadAvatar(ctx, args[0])
			case generate || prompt != "":
				url, err = a.users.GenerateAvatar(ctx, prompt, force)
			case userID != 0:
				url, err = a.users.RefreshUserAvatarURL(ctx, userID)
			default:
				url, err = a.users.RefreshAvatarURL(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "生成 AI 头像")
	cmd.Flags().StringVar(&prompt, "prompt", "", "AI 头像的提示词")
	cmd.Flags().BoolVar(&force, "force", false, "已有头像时也替换")
	cmd.Flags().Int64Var(&userID, "user", 0, "刷新指定用户的头像 URL")
	return cmd
}
