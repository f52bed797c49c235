package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"aihelper-go/internal/config"
	"aihelper-go/internal/model"
	"aihelper-go/internal/repository"
	"aihelper-go/internal/service"
	"aihelper-go/internal/store"
	"aihelper-go/pkg/api"
	"aihelper-go/pkg/database"
	"aihelper-go/pkg/kafka"
	"aihelper-go/pkg/log"
	"aihelper-go/pkg/storage"

	"github.com/spf13/cobra"
)

// app 持有一次命令执行所需的全部服务。
type app struct {
	out io.Writer

	client        *api.Client
	auth          service.AuthService
	conversations service.ConversationService
	chat          service.ChatService
	users         service.UserService
	archive       service.ArchiveService
	images        service.ImageLoader
	store         *store.Store

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	log.Sync()
}

func newRootCommand() *cobra.Command {
	var configPath string
	a := &app{out: os.Stdout}

	cmd := &cobra.Command{
		Use:           "aihelper",
		Short:         "AI 助手命令行客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context(), configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "配置文件路径")

	cmd.AddCommand(
		newLoginCommand(a),
		newLoginCodeCommand(a),
		newRegisterCommand(a),
		newResetPasswordCommand(a),
		newCodeCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newListCommand(a),
		newHistoryCommand(a),
		newChatCommand(a),
		newRenameCommand(a),
		newDeleteCommand(a),
		newDeleteMessageCommand(a),
		newProfileCommand(a),
		newAvatarCommand(a),
		newExportCommand(a),
	)
	return cmd
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./configs/config.yaml"
	}
	return filepath.Join(home, ".aihelper", "config.yaml")
}

// setup 按配置组装各个服务。可选组件初始化失败只记录警告。
func (a *app) setup(ctx context.Context, configPath string) error {
	if err := config.Init(configPath); err != nil {
		return err
	}
	cfg := config.Conf

	log.Init(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	sessions, err := a.sessionRepository(ctx, cfg.Session)
	if err != nil {
		return err
	}

	a.client = api.New(api.Options{BaseURL: cfg.Client.BaseURL, Timeout: cfg.Client.Timeout})
	a.auth = service.NewAuthService(a.client, sessions)
	a.auth.OnLogout(func() {
		fmt.Fprintln(os.Stderr, "登录已失效，请重新登录: aihelper login")
	})

	ids := model.RandomIDGenerator{}
	a.store = store.New(cfg.Chat.Model)
	a.conversations = service.NewConversationService(a.client, a.auth, a.store, ids, cfg.Chat.Language)

	var objects *storage.Client
	if cfg.MinIO.Endpoint != "" {
		objects, err = storage.NewClient(cfg.MinIO)
		if err != nil {
			log.Warnw("MinIO 初始化失败，minio:// 图片不可用", "error", err)
		}
	}
	a.images = service.NewImageLoader(objects)
	a.users = service.NewUserService(a.client, a.auth, a.images)

	publisher := service.NopPublisher()
	if cfg.Kafka.Brokers != "" {
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			log.Warnw("Kafka 初始化失败，不发送对话事件", "error", err)
		} else {
			publisher = service.NewKafkaPublisher(producer)
			a.closers = append(a.closers, func() { _ = producer.Close() })
		}
	}

	if cfg.Archive.Enabled {
		db, err := database.OpenMySQL(cfg.Archive.DSN)
		if err != nil {
			log.Warnw("归档数据库连接失败，不保存对话记录", "error", err)
		} else {
			repo := repository.NewArchiveRepository(db)
			if err := repo.Migrate(); err != nil {
				log.Warnw("归档表迁移失败", "error", err)
			}
			a.archive = service.NewArchiveService(repo, a.client, a.auth)
			if sqlDB, err := db.DB(); err == nil {
				a.closers = append(a.closers, func() { _ = sqlDB.Close() })
			}
		}
	}

	opts := []service.ChatOption{
		service.WithPublisher(publisher),
		service.WithDeepThinking(cfg.Chat.DeepThinking),
	}
	if a.archive != nil {
		opts = append(opts, service.WithArchive(a.archive))
	}
	a.chat = service.NewChatService(a.client, a.auth, a.conversations, a.store, ids, opts...)

	// 恢复登录失败不影响 login 等命令
	if err := a.auth.Init(ctx); err != nil {
		log.Warnw("恢复登录状态失败", "error", err)
	}
	return nil
}

func (a *app) sessionRepository(ctx context.Context, cfg config.SessionConfig) (repository.SessionRepository, error) {
	switch cfg.Store {
	case "redis":
		rdb, err := database.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect session redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		return repository.NewRedisSessionRepository(rdb, cfg.Redis.KeyPrefix), nil
	case "memory":
		return repository.NewMemorySessionRepository(), nil
	default:
		return repository.NewFileSessionRepository(cfg.FilePath), nil
	}
}

// requireLogin 在未登录时给出提示。
func (a *app) requireLogin() error {
	if !a.auth.IsAuthenticated() {
		return fmt.Errorf("%w，请先执行 aihelper login", service.ErrNotAuthenticated)
	}
	return nil
}
