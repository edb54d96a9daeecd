// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"io"
	"strings"
	"time"

	"poe-talk-go/internal/config"
	"poe-talk-go/internal/history"
	"poe-talk-go/internal/model"
	"poe-talk-go/pkg/log"
	"poe-talk-go/pkg/poe"
)

// State 表示当前会话回合所处的状态。
type State int

const (
	// StateIdle 表示空闲，可以发送下一条消息。
	StateIdle State = iota
	// StateAwaitingReply 表示已发送、正在等待或接收回复。
	StateAwaitingReply
	// StateFailed 表示上一回合失败。仅对该回合终态，仍可继续发送。
	StateFailed
)

// ProgressFunc 在流式回复过程中接收阶段性的累积文本。
// 推送频率受节流控制，但流结束后必定以完整文本收尾推送一次。
type ProgressFunc func(accumulated string)

// SessionService 协调一轮完整的交互：
// 追加用户消息、调用流式接口、节流推送进度、落库保存。
// 约定同一实例同一时刻只有一个调用方（与宿主 UI 的单会话模型一致）。
type SessionService interface {
	// Send 发送一条用户消息并等待完整回复。
	// 失败时已追加的用户消息保留在会话中，不做回滚。
	Send(ctx context.Context, text string, onProgress ProgressFunc) (*model.Conversation, error)
	// Active 返回当前活跃会话，尚未开始时为 nil。
	Active() *model.Conversation
	// State 返回当前回合状态。
	State() State
	// NewConversation 重置为全新的空闲会话。
	NewConversation()
	// Delete 在调用方确认后删除指定会话记录。
	Delete(id string, confirmed bool) error
}

type sessionService struct {
	cfg    config.Config
	client poe.Client
	store  history.Store

	conversation *model.Conversation
	state        State
	throttle     time.Duration
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(cfg config.Config, client poe.Client, store history.Store) SessionService {
	throttle := cfg.Chat.StreamUpdateInterval
	if throttle <= 0 {
		throttle = 100 * time.Millisecond
	}
	return &sessionService{
		cfg:      cfg,
		client:   client,
		store:    store,
		state:    StateIdle,
		throttle: throttle,
	}
}

func (s *sessionService) Send(ctx context.Context, text string, onProgress ProgressFunc) (*model.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &model.ValidationError{Message: "message is empty, please enter something to send"}
	}
	if s.cfg.Poe.APIKey == "" {
		return nil, &model.ValidationError{Message: "no Poe API key configured, please set it in the extension settings"}
	}

	if s.conversation == nil {
		s.conversation = model.NewConversation(text, s.cfg.Poe.BotName)
	}
	conv := s.conversation

	// 用户消息在网络调用之前追加，失败时也保留
	conv.Append(model.RoleUser, text)
	s.state = StateAwaitingReply

	reply, err := s.streamReply(ctx, conv, onProgress)
	if err != nil {
		s.state = StateFailed
		return conv, err
	}

	conv.Append(model.RoleAssistant, reply)
	s.store.Save(conv)
	s.state = StateIdle
	return conv, nil
}

// streamReply 消费片段序列并按到达顺序累积，
// 中间进度按节流间隔推送，结束后以完整文本收尾。
func (s *sessionService) streamReply(ctx context.Context, conv *model.Conversation, onProgress ProgressFunc) (string, error) {
	stream, err := s.client.StreamChat(ctx, conv.Messages)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full strings.Builder
	var lastPush time.Time
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		full.WriteString(fragment)

		if onProgress != nil {
			if now := time.Now(); now.Sub(lastPush) >= s.throttle {
				onProgress(full.String())
				lastPush = now
			}
		}
	}

	// 最终状态必须完整推送一次，避免丢掉节流窗口内的尾部片段
	if onProgress != nil {
		onProgress(full.String())
	}
	return full.String(), nil
}

func (s *sessionService) Active() *model.Conversation {
	return s.conversation
}

func (s *sessionService) State() State {
	return s.state
}

func (s *sessionService) NewConversation() {
	s.conversation = nil
	s.state = StateIdle
}

func (s *sessionService) Delete(id string, confirmed bool) error {
	if !confirmed {
		return &model.ValidationError{Message: "deletion not confirmed"}
	}
	if err := s.store.Delete(id); err != nil {
		return err
	}
	log.Infof("已删除会话 %s", id)
	if s.conversation != nil && s.conversation.ID == id {
		s.NewConversation()
	}
	return nil
}
