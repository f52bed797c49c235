package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"aihelper-go/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readSecret 从终端读取密码，不回显。标准输入不是终端时按行读取。
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// loginType 根据账号格式判断登录方式。
func loginType(account string) string {
	if strings.Contains(account, "@") {
		return "email"
	}
	return "mobile"
}

func newLoginCommand(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <邮箱或手机号>",
		Short: "使用账号密码登录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := readSecret("密码: ")
				if err != nil {
					return err
				}
				password = p
			}
			user, err := a.auth.Login(cmd.Context(), args[0], password, loginType(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "登录成功，欢迎 %s\n", user.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "密码（不填时交互输入）")
	return cmd
}

func newLoginCodeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login-code <手机号> <验证码>",
		Short: "使用验证码登录",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.auth.LoginWithCode(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "登录成功，欢迎 %s\n", user.DisplayName())
			return nil
		},
	}
}

func newRegisterCommand(a *app) *cobra.Command {
	var in service.RegisterInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "注册新账号",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				p, err := readSecret("设置密码: ")
				if err != nil {
					return err
				}
				in.Password = p
			}
			user, err := a.auth.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "注册成功，欢迎 %s\n", user.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "邮箱")
	cmd.Flags().StringVar(&in.Mobile, "mobile", "", "手机号")
	cmd.Flags().StringVar(&in.Nickname, "nickname", "", "昵称")
	cmd.Flags().StringVar(&in.Code, "code", "", "验证码（先执行 aihelper code register <账号>）")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", "密码（不填时交互输入）")
	return cmd
}

func newResetPasswordCommand(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "reset-password <账号> <验证码>",
		Short: "使用验证码重置密码",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := readSecret("新密码: ")
				if err != nil {
					return err
				}
				password = p
			}
			if err := a.auth.ResetPassword(cmd.Context(), args[0], args[1], password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "密码已重置，请重新登录")
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "新密码（不填时交互输入）")
	return cmd
}

func newCodeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "code <login|register|reset> <邮箱或手机号>",
		Short: "获取验证码",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := a.auth.GetVerificationCode(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if code == "" {
				fmt.Fprintln(a.out, "验证码已发送，请查收")
				return nil
			}
			fmt.Fprintf(a.out, "验证码: %s\n", code)
			return nil
		},
	}
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "退出登录并清除本地凭证",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.auth.Logout(cmd.Context())
			fmt.Fprintln(a.out, "已退出登录")
			return nil
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "显示当前登录用户",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			u := a.auth.User()
			fmt.Fprintf(a.out, "ID:     %d\n用户名: %s\n昵称:   %s\n", u.ID, u.Username, u.Nickname)
			if u.Email != "" {
				fmt.Fprintf(a.out, "邮箱:   %s\n", u.Email)
			}
			if u.Mobile != "" {
				fmt.Fprintf(a.out, "手机号: %s\n", u.Mobile)
			}
			if u.Avatar != "" {
				fmt.Fprintf(a.out, "头像:   %s\n", u.Avatar)
			}
			return nil
		},
	}
}
