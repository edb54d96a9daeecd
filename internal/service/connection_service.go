package service

import (
	"context"
	"strings"

	"poe-talk-go/internal/config"
	"poe-talk-go/internal/model"
	"poe-talk-go/pkg/poe"
)

// ConnectionService 提供到 Poe 接口的连接自检。
type ConnectionService interface {
	// Test 发送一条最小的探测消息，失败时返回映射后的错误分类。
	Test(ctx context.Context) error
}

type connectionService struct {
	cfg    config.PoeConfig
	client poe.Client
}

// NewConnectionService 创建一个新的 ConnectionService 实例。
func NewConnectionService(cfg config.PoeConfig, client poe.Client) ConnectionService {
	return &connectionService{cfg: cfg, client: client}
}

func (s *connectionService) Test(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return &model.ValidationError{Message: "no Poe API key configured, please set it in the extension settings"}
	}

	reply, err := s.client.Chat(ctx, []model.Message{
		{Role: model.RoleUser, Content: "Hi", Timestamp: model.NowMillis()},
	})
	if err != nil {
		return err
	}
	if reply == "" {
		return &model.TransportError{Message: "no response received from bot"}
	}
	return nil
}

// ValidateAPIKeyFormat 对 API Key 做基本的格式检查。
func ValidateAPIKeyFormat(apiKey string) error {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return &model.ValidationError{Message: "API key is empty"}
	}
	if !strings.HasPrefix(key, "pk_") && !strings.HasPrefix(key, "sk_") {
		return &model.ValidationError{Message: "API key format looks wrong (expected pk_ or sk_ prefix)"}
	}
	return nil
}
