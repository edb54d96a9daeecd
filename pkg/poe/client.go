// Package poe provides a client for the Poe OpenAI-compatible chat completions API.
package poe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"poe-talk-go/internal/config"
	"poe-talk-go/internal/model"
	"poe-talk-go/pkg/log"
)

// defaultTimeout 是单次请求的固定截止时间。
const defaultTimeout = 60 * time.Second

// Doer 抽象 HTTP 请求的执行，便于在测试中替换真实网络调用。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client 定义了 Poe 聊天接口的客户端。
// 客户端本身不持有跨调用的会话状态，配置在构造时确定，
// 多个实例可以安全地并发使用。
type Client interface {
	// Chat 发送非流式请求并返回完整回复文本；上游未返回内容时返回空串。
	Chat(ctx context.Context, messages []model.Message) (string, error)
	// StreamChat 发起流式请求并返回片段序列。不做自动重试。
	StreamChat(ctx context.Context, messages []model.Message) (Stream, error)
}

type poeClient struct {
	cfg         config.PoeConfig
	doer        Doer
	proxyLookup func(string) string
	// proxyURL 是构造时解析出的代理地址，为空表示直连。
	proxyURL string
}

// Option 用于在构造时调整客户端行为。
type Option func(*poeClient)

// WithDoer 注入自定义的 HTTP 执行器（测试用）。
func WithDoer(d Doer) Option {
	return func(c *poeClient) { c.doer = d }
}

// WithProxyLookup 注入代理环境变量的查找函数（测试用）。
func WithProxyLookup(lookup func(string) string) Option {
	return func(c *poeClient) { c.proxyLookup = lookup }
}

// NewClient 创建一个新的 Poe 客户端。
// 解析到代理时所有请求经由该代理转发，否则直连。
func NewClient(cfg config.PoeConfig, opts ...Option) Client {
	c := &poeClient{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	c.proxyURL = ResolveProxyURL(cfg.ProxyURL, c.proxyLookup)

	if c.doer == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		transport := &http.Transport{}
		if c.proxyURL != "" {
			if u, err := url.Parse(c.proxyURL); err == nil {
				transport.Proxy = http.ProxyURL(u)
				log.Infof("使用代理: %s", c.proxyURL)
			} else {
				log.Warnf("代理地址无法解析，改为直连: %s", c.proxyURL)
				c.proxyURL = ""
			}
		}
		c.doer = &http.Client{Transport: transport, Timeout: timeout}
	}
	return c
}

// chatMessage 是发送给上游的消息，时间戳不参与传输。
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// errorResponse 对应上游错误体 {"error": {"message": ...}}。
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *poeClient) Chat(ctx context.Context, messages []model.Message) (string, error) {
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.mapTransportError(err)
	}
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &model.TransportError{Message: fmt.Sprintf("unexpected response body: %v", err)}
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

func (c *poeClient) StreamChat(ctx context.Context, messages []model.Message) (Stream, error) {
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body, c.mapTransportError), nil
}

// post 发送一次 chat/completions 请求，返回状态为 200 的响应。
// 任何传输或 HTTP 层失败都已映射为错误分类。
func (c *poeClient) post(ctx context.Context, messages []model.Message, stream bool) (*http.Response, error) {
	reqBody := chatRequest{
		Model:    c.cfg.BotName,
		Messages: formatMessages(messages),
		Stream:   stream,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &model.TransportError{Message: fmt.Sprintf("failed to marshal chat request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &model.TransportError{Message: fmt.Sprintf("failed to create chat request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.cfg.RefererURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.RefererURL)
	}
	if c.cfg.AppTitle != "" {
		req.Header.Set("X-Title", c.cfg.AppTitle)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, c.mapTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, c.mapStatusError(resp.StatusCode, body)
	}
	return resp, nil
}

func formatMessages(messages []model.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// mapStatusError 将非 200 的 HTTP 状态映射为错误分类，保留上游消息文本。
func (c *poeClient) mapStatusError(status int, body []byte) error {
	upstream := upstreamMessage(body)
	switch status {
	case http.StatusUnauthorized:
		return &model.AuthError{Message: "invalid API key, please check your Poe API key in the extension settings"}
	case http.StatusNotFound:
		return &model.NotFoundError{Message: fmt.Sprintf("bot %q does not exist, please check the bot name", c.cfg.BotName)}
	case http.StatusTooManyRequests:
		return &model.RateLimitError{Message: "too many requests, please retry later (limit: 500 requests per minute)"}
	case http.StatusPaymentRequired:
		return &model.InsufficientCreditError{Message: "insufficient credits, please top up at poe.com"}
	default:
		if upstream == "" {
			upstream = "request failed"
		}
		return &model.TransportError{Message: upstream, StatusCode: status}
	}
}

// mapTransportError 将网络层错误映射为错误分类。
// 超时提示会区分“未配置代理”和“代理可能有问题”两种情况。
func (c *poeClient) mapTransportError(err error) error {
	if isTimeout(err) {
		if c.proxyURL != "" {
			return &model.TimeoutError{Message: "request timed out, check that your proxy is running and reachable"}
		}
		return &model.TimeoutError{Message: "request timed out with no proxy configured, you may need one (e.g. http://127.0.0.1:7890)"}
	}
	return &model.TransportError{Message: err.Error()}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if os.IsTimeout(err) {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

// upstreamMessage 尽力从错误响应体中取出上游消息文本。
func upstreamMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return strings.TrimSpace(string(body))
}
