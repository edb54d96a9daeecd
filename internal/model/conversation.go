// Package model 包含了应用的数据模型定义。
package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// 消息角色常量。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// titleMaxRunes 是会话标题的最大长度（按字符计，非字节）。
const titleMaxRunes = 50

// Message 代表会话中的单条消息。
type Message struct {
	Role      string `json:"role"` // "user" 或 "assistant"
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // 毫秒时间戳
}

// Conversation 代表一次完整的会话记录，以 ID 为键持久化为单个 JSON 文件。
// Title 在创建时由第一条用户消息派生，之后不再重新生成。
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	BotName   string    `json:"botName"`
}

// NewConversation 基于第一条用户消息创建一个新的会话记录。
// 消息本身并不会被追加，调用方需随后调用 Append。
func NewConversation(firstMessage, botName string) *Conversation {
	now := NowMillis()
	return &Conversation{
		ID:        GenerateID(),
		Title:     GenerateTitle(firstMessage),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		BotName:   botName,
	}
}

// Append 追加一条消息并刷新 UpdatedAt。
func (c *Conversation) Append(role, content string) {
	now := NowMillis()
	c.Messages = append(c.Messages, Message{Role: role, Content: content, Timestamp: now})
	c.UpdatedAt = now
}

// LastMessage 返回最后一条消息，会话为空时返回零值。
func (c *Conversation) LastMessage() Message {
	if len(c.Messages) == 0 {
		return Message{}
	}
	return c.Messages[len(c.Messages)-1]
}

// GenerateID 生成一个新的会话 ID。
func GenerateID() string {
	return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateTitle 取第一条用户消息的前 50 个字符作为标题；
// 超出时截断并以省略号结尾。
func GenerateTitle(firstMessage string) string {
	if utf8.RuneCountInString(firstMessage) <= titleMaxRunes {
		return firstMessage
	}
	return string([]rune(firstMessage)[:titleMaxRunes]) + "..."
}

// NowMillis 返回当前的毫秒级 Unix 时间戳。
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
