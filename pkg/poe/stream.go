package poe

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Stream 是一次流式回复的惰性片段序列。
// 序列有限且不可重放；Recv 返回 io.EOF 表示正常结束，
// 中途失败时已收到的片段不受影响，错误在下一次 Recv 时返回。
type Stream interface {
	// Recv 返回下一个非空文本增量。
	Recv() (string, error)
	// Close 释放底层连接。放弃消费时必须调用。
	Close() error
}

// sseStream 从 SSE 响应体中逐行读取 "data: " 帧并解出增量文本。
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	mapErr func(error) error
	done   bool
}

func newSSEStream(body io.ReadCloser, mapErr func(error) error) *sseStream {
	return &sseStream{
		body:   body,
		reader: bufio.NewReader(body),
		mapErr: mapErr,
	}
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err == io.EOF {
				return "", io.EOF
			}
			return "", s.mapErr(err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		// 空增量直接跳过，不向消费方产出
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return chunk.Choices[0].Delta.Content, nil
		}
	}
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
