// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf = Default()

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Client  ClientConfig  `mapstructure:"client"`
	Session SessionConfig `mapstructure:"session"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Avatar  AvatarConfig  `mapstructure:"avatar"`
	Log     LogConfig     `mapstructure:"log"`
	Archive ArchiveConfig `mapstructure:"archive"`
	MinIO   MinIOConfig   `mapstructure:"minio"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Server  ServerConfig  `mapstructure:"server"`
	JWT     JWTConfig     `mapstructure:"jwt"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Tika    TikaConfig    `mapstructure:"tika"`
}

// ClientConfig 存储后端 API 的访问配置。
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig 决定登录凭证保存在哪里。
type SessionConfig struct {
	Store    string      `mapstructure:"store"` // file 或 redis
	FilePath string      `mapstructure:"file_path"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ChatConfig 存储对话相关的默认值。
type ChatConfig struct {
	Model        string `mapstructure:"model"`
	DeepThinking bool   `mapstructure:"deep_thinking"`
	Language     string `mapstructure:"language"`
}

// AvatarConfig 控制头像签名 URL 的刷新周期。
type AvatarConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ArchiveConfig 存储对话归档（MySQL）的配置。
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，用于 minio:// 图片来源。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// KafkaConfig 存储对话事件流的配置，Brokers 为空时不发送事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ServerConfig 存储本地模拟后端的配置。
type ServerConfig struct {
	Port       string        `mapstructure:"port"`
	Mode       string        `mapstructure:"mode"`
	ReplyDelay time.Duration `mapstructure:"reply_delay"`
	EchoCodes  bool          `mapstructure:"echo_codes"`
}

// JWTConfig 存储模拟后端签发 token 的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LLMConfig 存储模拟后端调用大语言模型的配置，APIKey 为空时使用复述回复。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	ReasoningModel string              `mapstructure:"reasoning_model"`
	SystemPrompt   string              `mapstructure:"system_prompt"`
	Timeout        time.Duration       `mapstructure:"timeout"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// TikaConfig 存储模拟后端图片 OCR 的配置，ServerURL 为空时不做 OCR。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Default 返回不依赖配置文件的默认配置。
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Client: ClientConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 120 * time.Second,
		},
		Session: SessionConfig{
			Store:    "file",
			FilePath: filepath.Join(home, ".aihelper", "session.json"),
			Redis:    RedisConfig{Addr: "localhost:6379", KeyPrefix: "aihelper:"},
		},
		Chat: ChatConfig{
			Model:    "deepseek-r1",
			Language: "zh",
		},
		Avatar: AvatarConfig{RefreshInterval: 45 * time.Minute},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Kafka:  KafkaConfig{Topic: "aihelper-turns"},
		Server: ServerConfig{Port: "8080", Mode: "release", ReplyDelay: 2 * time.Second, EchoCodes: true},
		JWT: JWTConfig{
			Secret:                 "aihelper-mock-secret",
			AccessTokenExpireHours: 24,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.deepseek.com",
			Model:          "deepseek-chat",
			ReasoningModel: "deepseek-reasoner",
			SystemPrompt:   "你是一个乐于助人的 AI 助手。",
			Timeout:        120 * time.Second,
		},
		Tika: TikaConfig{Timeout: 30 * time.Second},
	}
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// configPath 为空或文件不存在时只使用默认值和环境变量。
func Init(configPath string) error {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("AIHELPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	c.Session.FilePath = expandHome(c.Session.FilePath)
	c.Log.OutputPath = expandHome(c.Log.OutputPath)
	Conf = c
	return nil
}

// AutomaticEnv 只覆盖已知的 key，所以每个字段都要注册默认值。
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("client.base_url", d.Client.BaseURL)
	v.SetDefault("client.timeout", d.Client.Timeout)
	v.SetDefault("session.store", d.Session.Store)
	v.SetDefault("session.file_path", d.Session.FilePath)
	v.SetDefault("session.redis.addr", d.Session.Redis.Addr)
	v.SetDefault("session.redis.password", d.Session.Redis.Password)
	v.SetDefault("session.redis.db", d.Session.Redis.DB)
	v.SetDefault("session.redis.key_prefix", d.Session.Redis.KeyPrefix)
	v.SetDefault("chat.model", d.Chat.Model)
	v.SetDefault("chat.deep_thinking", d.Chat.DeepThinking)
	v.SetDefault("chat.language", d.Chat.Language)
	v.SetDefault("avatar.refresh_interval", d.Avatar.RefreshInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_path", d.Log.OutputPath)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.dsn", d.Archive.DSN)
	v.SetDefault("minio.endpoint", d.MinIO.Endpoint)
	v.SetDefault("minio.access_key_id", d.MinIO.AccessKeyID)
	v.SetDefault("minio.secret_access_key", d.MinIO.SecretAccessKey)
	v.SetDefault("minio.use_ssl", d.MinIO.UseSSL)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.reply_delay", d.Server.ReplyDelay)
	v.SetDefault("server.echo_codes", d.Server.EchoCodes)
	v.SetDefault("jwt.secret", d.JWT.Secret)
	v.SetDefault("jwt.access_token_expire_hours", d.JWT.AccessTokenExpireHours)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.reasoning_model", d.LLM.ReasoningModel)
	v.SetDefault("llm.system_prompt", d.LLM.SystemPrompt)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.generation.temperature", d.LLM.Generation.Temperature)
	v.SetDefault("llm.generation.top_p", d.LLM.Generation.TopP)
	v.SetDefault("llm.generation.max_tokens", d.LLM.Generation.MaxTokens)
	v.SetDefault("tika.server_url", d.Tika.ServerURL)
	v.SetDefault("tika.timeout", d.Tika.Timeout)
}

// expandHome 把开头的 ~ 替换为用户主目录。
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
