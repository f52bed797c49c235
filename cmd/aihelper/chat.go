package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"aihelper-go/internal/config"
	"aihelper-go/internal/model"
	"aihelper-go/internal/service"
	"aihelper-go/pkg/log"

	"github.com/spf13/cobra"
)

const chatHelp = `输入消息后回车发送。可用命令：
  /stop            停止当前生成
  /new             开始新对话
  /switch <ID>     切换到指定会话
  /regen [消息ID]  重新生成助手回复，默认最后一条
  /title [标题]    修改当前会话标题，不填时自动生成
  /think on|off    开关深度思考
  /model <名称>    切换模型
  /image <路径>    为下一条消息附加图片（本地路径或 minio://bucket/key）
  /quit            退出`

var errImageUsage = errors.New("用法: /image <路径>")

func newChatCommand(a *app) *cobra.Command {
	var (
		conversationID int64
		message        string
		imageSource    string
		deep           bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "与 AI 助手对话，-m 时只发送一条消息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("deep") {
				a.chat.SetDeepThinking(deep)
			}
			if conversationID != 0 {
				if err := a.conversations.SwitchConversation(ctx, conversationID); err != nil {
					return err
				}
			}
			if message != "" {
				return a.sendOnce(ctx, message, imageSource)
			}
			return a.repl(ctx)
		},
	}
	cmd.Flags().Int64Var(&conversationID, "conversation", 0, "继续指定的会话")
	cmd.Flags().StringVarP(&message, "message", "m", "", "只发送这一条消息")
	cmd.Flags().StringVar(&imageSource, "image", "", "附加图片（本地路径或 minio://bucket/key）")
	cmd.Flags().BoolVar(&deep, "deep", false, "开启深度思考")
	return cmd
}

func (a *app) loadImage(ctx context.Context, source string) (*service.Image, error) {
	if source == "" {
		return nil, nil
	}
	img, err := a.images.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (a *app) sendOnce(ctx context.Context, text, imageSource string) error {
	img, err := a.loadImage(ctx, imageSource)
	if err != nil {
		return err
	}
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	return a.sendAndWait(ctx, text, img, interrupts)
}

// sendAndWait 发送一条消息并等待回复，生成期间收到中断时请求服务器停止生成。
func (a *app) sendAndWait(ctx context.Context, text string, img *service.Image, interrupts <-chan os.Signal) error {
	results := make(chan sendResult, 1)
	go func() {
		r, err := a.chat.Send(ctx, text, img)
		results <- sendResult{result: r, err: err}
	}()

	for {
		select {
		case <-interrupts:
			a.stop(context.WithoutCancel(ctx))
		case r := <-results:
			if r.result != nil {
				a.printResult(r.result)
			}
			return r.err
		}
	}
}

func (a *app) printResult(r *service.TurnResult) {
	switch {
	case r.Outcome == service.OutcomeStopped:
		fmt.Fprintln(a.out, "（生成已停止）")
	case r.Assistant != nil:
		printMessage(a.out, *r.Assistant)
	}
}

type sendResult struct {
	result *service.TurnResult
	err    error
}

// repl 在后台发送消息，生成期间仍然可以输入 /stop。
func (a *app) repl(ctx context.Context) error {
	snap := a.conversations.Snapshot()
	fmt.Fprintf(a.out, "== %s ==\n", snap.Title)
	printMessages(a.out, snap.Messages)
	fmt.Fprintln(a.out, chatHelp)

	// 签名 URL 会过期，对话期间定期刷新头像
	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()
	refresher := service.NewAvatarRefresher(a.users, a.auth, config.Conf.Avatar.RefreshInterval, func(url string) {
		log.Debugw("头像 URL 已刷新", "url", url)
	})
	go refresher.Run(refreshCtx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	var (
		pending    *service.Image
		results    = make(chan sendResult, 1)
		generating bool
	)
	start := func(f func() (*service.TurnResult, error)) {
		generating = true
		go func() {
			r, err := f()
			results <- sendResult{result: r, err: err}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-interrupts:
			if !generating {
				return nil
			}
			a.stop(ctx)
		case r := <-results:
			generating = false
			if r.result != nil {
				a.printResult(r.result)
			}
			if r.err != nil {
				fmt.Fprintln(os.Stderr, "错误:", r.err)
			}
		case line, ok := <-lines:
			if !ok {
				if generating {
					r := <-results
					if r.result != nil {
						a.printResult(r.result)
					}
				}
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "/") {
				img := pending
				pending = nil
				start(func() (*service.TurnResult, error) { return a.chat.Send(ctx, line, img) })
				continue
			}
			quit, err := a.command(ctx, line, &pending, generating, start)
			if err != nil {
				fmt.Fprintln(os.Stderr, "错误:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (a *app) stop(ctx context.Context) {
	out, err := a.chat.StopGeneration(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "停止生成失败:", err)
		return
	}
	if out.AlreadyFinished {
		fmt.Fprintln(a.out, "（生成已结束）")
		return
	}
	fmt.Fprintln(a.out, "（已停止生成）")
}

// command 执行一条斜杠命令，返回 true 表示退出。
func (a *app) command(ctx context.Context, line string, pending **service.Image, generating bool, start func(func() (*service.TurnResult, error))) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(a.out, chatHelp)
	case "/stop":
		a.stop(ctx)
	case "/new":
		a.conversations.StartNewChat()
		printMessages(a.out, a.conversations.Snapshot().Messages)
	case "/switch":
		id, err := parseID(arg)
		if err != nil {
			return false, err
		}
		if err := a.conversations.SwitchConversation(ctx, id); err != nil {
			return false, err
		}
		snap := a.conversations.Snapshot()
		fmt.Fprintf(a.out, "== %s ==\n", snap.Title)
		printMessages(a.out, snap.Messages)
	case "/regen":
		if generating {
			return false, service.ErrGenerationInProgress
		}
		id, err := a.regenTarget(arg)
		if err != nil {
			return false, err
		}
		start(func() (*service.TurnResult, error) { return a.chat.Regenerate(ctx, id) })
	case "/title":
		snap := a.conversations.Snapshot()
		if snap.ActiveID == 0 {
			return false, service.ErrInvalidConversation
		}
		if arg == "" {
			conv, err := a.conversations.GenerateTitle(ctx, snap.ActiveID)
			if err != nil {
				return false, err
			}
			fmt.Fprintf(a.out, "新标题: %s\n", conv.Title)
			return false, nil
		}
		if err := a.conversations.UpdateConversationTitle(ctx, snap.ActiveID, arg); err != nil {
			return false, err
		}
		fmt.Fprintln(a.out, "标题已更新")
	case "/think":
		a.chat.SetDeepThinking(arg == "on")
	case "/model":
		a.conversations.SetModel(arg)
	case "/image":
		if arg == "" {
			if *pending == nil {
				return false, errImageUsage
			}
			*pending = nil
			fmt.Fprintln(a.out, "已移除附加图片")
			return false, nil
		}
		img, err := a.loadImage(ctx, arg)
		if err != nil {
			return false, err
		}
		*pending = img
		fmt.Fprintf(a.out, "已附加图片 %s\n", img.Name)
	default:
		return false, fmt.Errorf("未知命令 %s，输入 /help 查看帮助", name)
	}
	return false, nil
}

// regenTarget 解析 /regen 的参数，缺省时使用最后一条助手消息。
func (a *app) regenTarget(arg string) (int64, error) {
	if arg != "" {
		return parseID(arg)
	}
	msgs := a.conversations.Snapshot().Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i].ID, nil
		}
	}
	return 0, errors.New("没有可以重新生成的助手消息")
}
