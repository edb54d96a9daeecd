// Package main 是命令行入口，承担宿主启动器的角色：
// chat 交互对话、history 浏览历史、clear 清空记录、test 连接自检。
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"poe-talk-go/internal/config"
	"poe-talk-go/internal/history"
	"poe-talk-go/internal/model"
	"poe-talk-go/internal/service"
	"poe-talk-go/pkg/log"
	"poe-talk-go/pkg/poe"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", defaultConfigPath(), "配置文件路径")
	pflag.Parse()

	// 1. 初始化配置与日志
	config.Init(*configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	// 2. 初始化存储与客户端
	fsys := afero.NewOsFs()
	store := history.NewStore(fsys, cfg.History)
	// 退出前写出尚未落盘的合并写入
	defer store.Flush()
	client := poe.NewClient(cfg.Poe)

	// 3. 初始化 Service（依赖注入）
	session := service.NewSessionService(cfg, client, store)
	connection := service.NewConnectionService(cfg.Poe, client)

	args := pflag.Args()
	cmd := "chat"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "chat":
		return runChat(session)
	case "history":
		return runHistory(store, session, args[1:])
	case "clear":
		return runClear(fsys, cfg.History.Dir)
	case "test":
		return runTest(connection, cfg.Poe)
	default:
		return fmt.Errorf("未知命令: %s (可用: chat, history, clear, test)", cmd)
	}
}

func runChat(session service.SessionService) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("poe-talk — 输入消息开始对话，/new 开启新会话，/exit 退出")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			session.NewConversation()
			fmt.Println("已开启新会话")
			continue
		}

		// 进度回调推送的是累积文本，这里只输出新增的尾部
		printed := 0
		_, err = session.Send(context.Background(), line, func(accumulated string) {
			fmt.Print(accumulated[printed:])
			printed = len(accumulated)
		})
		fmt.Println()
		if err != nil {
			fmt.Println("✗", err)
		}
	}
}

func runHistory(store history.Store, session service.SessionService, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "list":
		conversations, err := store.List()
		if err != nil {
			return err
		}
		if len(conversations) == 0 {
			fmt.Println("暂无会话记录")
			return nil
		}
		for _, c := range conversations {
			fmt.Printf("%s  %-20s  %3d 条消息  %s\n",
				c.ID,
				formatTime(c.UpdatedAt),
				len(c.Messages),
				c.Title,
			)
		}
		return nil

	case "show":
		if len(args) < 2 {
			return fmt.Errorf("用法: history show <id>")
		}
		conv, err := store.Load(args[1])
		if err != nil {
			return err
		}
		if conv == nil {
			return fmt.Errorf("会话 %s 不存在", args[1])
		}
		fmt.Printf("%s (%s)\n\n", conv.Title, conv.BotName)
		for _, m := range conv.Messages {
			prefix := "🤖"
			if m.Role == model.RoleUser {
				prefix = "👤"
			}
			fmt.Printf("%s %s\n\n", prefix, m.Content)
		}
		return nil

	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("用法: history delete <id>")
		}
		confirmed, err := confirm(fmt.Sprintf("确认删除会话 %s？此操作无法恢复", args[1]))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("操作已取消")
			return nil
		}
		if err := session.Delete(args[1], true); err != nil {
			return err
		}
		fmt.Println("已删除")
		return nil

	default:
		return fmt.Errorf("未知子命令: %s (可用: list, show, delete)", sub)
	}
}

func runClear(fsys afero.Fs, dir string) error {
	confirmed, err := confirm("确认删除所有对话历史记录？此操作无法恢复")
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("操作已取消")
		return nil
	}
	removed, err := history.ClearAll(fsys, dir)
	if err != nil {
		return err
	}
	if removed == 0 {
		fmt.Println("没有需要删除的对话记录")
		return nil
	}
	fmt.Printf("已删除 %d 条对话记录\n", removed)
	return nil
}

func runTest(connection service.ConnectionService, cfg config.PoeConfig) error {
	if err := service.ValidateAPIKeyFormat(cfg.APIKey); err != nil {
		fmt.Println("⚠️ ", err)
	}
	fmt.Printf("测试连接 (bot: %s)...\n", cfg.BotName)
	if err := connection.Test(context.Background()); err != nil {
		return err
	}
	fmt.Println("✅ 连接成功")
	return nil
}

func confirm(prompt string) (bool, error) {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func formatTime(millis int64) string {
	return time.UnixMilli(millis).Format("2006-01-02 15:04")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".poe-talk", "config.yaml")
}
