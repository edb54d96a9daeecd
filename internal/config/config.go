// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 所有字段均可通过 POE_ 前缀的环境变量覆盖（如 POE_POE_API_KEY）。
type Config struct {
	Poe     PoeConfig     `mapstructure:"poe"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
	Chat    ChatConfig    `mapstructure:"chat"`
}

// PoeConfig 存储 Poe API 相关的配置。
type PoeConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BotName        string        `mapstructure:"bot_name"`
	BaseURL        string        `mapstructure:"base_url"`
	ProxyURL       string        `mapstructure:"proxy_url"`
	RefererURL     string        `mapstructure:"referer_url"`
	AppTitle       string        `mapstructure:"app_title"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HistoryConfig 存储会话历史持久化相关的配置。
type HistoryConfig struct {
	Dir           string        `mapstructure:"dir"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	SaveDebounce  time.Duration `mapstructure:"save_debounce"`
	ListBatchSize int           `mapstructure:"list_batch_size"`
	// WriteThrough 为 true 时每次 Save 都立即落盘，不再合并写入。
	// 与参考行为不同，作为更严格的持久化选项提供。
	WriteThrough bool `mapstructure:"write_through"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ChatConfig 存储会话交互相关的配置。
type ChatConfig struct {
	// StreamUpdateInterval 是流式回复刷新 UI 的最小间隔。
	StreamUpdateInterval time.Duration `mapstructure:"stream_update_interval"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 配置文件不存在时仅使用默认值与环境变量，客户端场景下属正常情况。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	viper.SetEnvPrefix("POE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			panic(fmt.Errorf("读取配置文件失败: %w", err))
		}
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

func setDefaults() {
	viper.SetDefault("poe.base_url", "https://api.poe.com/v1")
	viper.SetDefault("poe.bot_name", "Claude-Sonnet-4.5")
	viper.SetDefault("poe.request_timeout", 60*time.Second)
	viper.SetDefault("history.dir", defaultHistoryDir())
	viper.SetDefault("history.cache_ttl", 30*time.Second)
	viper.SetDefault("history.save_debounce", 500*time.Millisecond)
	viper.SetDefault("history.list_batch_size", 10)
	viper.SetDefault("history.write_through", false)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("chat.stream_update_interval", 100*time.Millisecond)
}

// defaultHistoryDir 返回会话记录的默认存储目录（宿主支持目录下的 conversations）。
func defaultHistoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".poe-talk", "conversations")
}
