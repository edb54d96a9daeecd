// Package history 提供会话记录的本地持久化，带读缓存与合并写入。
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"poe-talk-go/internal/config"
	"poe-talk-go/internal/model"
	"poe-talk-go/pkg/log"
)

// Store 定义了会话记录的存取接口，以会话 ID 为唯一键。
type Store interface {
	// Save 同步更新缓存并调度一次落盘写入。
	// 合并窗口内对同一 ID 的多次 Save 只产生最后一次状态的单次写入。
	Save(conv *model.Conversation)
	// Load 返回指定 ID 的记录；记录不存在时返回 (nil, nil)。
	Load(id string) (*model.Conversation, error)
	// List 返回全部记录，按 UpdatedAt 从新到旧排序。
	List() ([]*model.Conversation, error)
	// Delete 删除持久化记录并清理相关缓存与待写任务。
	Delete(id string) error
	// Flush 同步写出所有待合并的写入，供进程退出前调用。
	Flush()
}

type cacheEntry struct {
	conv    *model.Conversation
	fetched time.Time
}

type listEntry struct {
	conversations []*model.Conversation
	fetched       time.Time
}

// pendingWrite 持有同一 ID 最近一次提交的状态与其定时器。
type pendingWrite struct {
	timer *time.Timer
	conv  *model.Conversation
}

type fileStore struct {
	fs           afero.Fs
	dir          string
	cacheTTL     time.Duration
	debounce     time.Duration
	batchSize    int
	writeThrough bool

	mu        sync.Mutex
	cache     map[string]cacheEntry
	listCache *listEntry
	pending   map[string]*pendingWrite
	now       func() time.Time
}

// NewStore 创建一个以“单文件每会话”方式持久化的 Store 实例。
// 缓存的生命周期等同于实例本身。
func NewStore(fsys afero.Fs, cfg config.HistoryConfig) Store {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = 500 * time.Millisecond
	}
	if cfg.ListBatchSize <= 0 {
		cfg.ListBatchSize = 10
	}
	return &fileStore{
		fs:           fsys,
		dir:          cfg.Dir,
		cacheTTL:     cfg.CacheTTL,
		debounce:     cfg.SaveDebounce,
		batchSize:    cfg.ListBatchSize,
		writeThrough: cfg.WriteThrough,
		cache:        make(map[string]cacheEntry),
		pending:      make(map[string]*pendingWrite),
		now:          time.Now,
	}
}

func (s *fileStore) Save(conv *model.Conversation) {
	snapshot := cloneConversation(conv)

	s.mu.Lock()
	s.cache[conv.ID] = cacheEntry{conv: snapshot, fetched: s.now()}
	// 成员或排序可能变化，列表缓存无条件失效
	s.listCache = nil
	if s.writeThrough {
		s.mu.Unlock()
		if err := s.writeFile(snapshot); err != nil {
			log.Error("写入会话记录失败", err)
		}
		return
	}

	if p, ok := s.pending[conv.ID]; ok {
		p.timer.Stop()
	}
	p := &pendingWrite{conv: snapshot}
	p.timer = time.AfterFunc(s.debounce, func() { s.flushOne(conv.ID) })
	s.pending[conv.ID] = p
	s.mu.Unlock()
}

// flushOne 写出指定 ID 的待写状态。写失败只记录日志：
// 调用方在缓存更新时已观察到成功，缓存中仍是最新状态。
func (s *fileStore) flushOne(id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	conv := p.conv
	s.mu.Unlock()

	if err := s.writeFile(conv); err != nil {
		log.Error("写入会话记录失败", err)
	}
}

func (s *fileStore) Load(id string) (*model.Conversation, error) {
	s.mu.Lock()
	if e, ok := s.cache[id]; ok && s.now().Sub(e.fetched) < s.cacheTTL {
		conv := cloneConversation(e.conv)
		s.mu.Unlock()
		return conv, nil
	}
	s.mu.Unlock()

	conv, err := s.readFile(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &model.StorageError{Message: "failed to load conversation", Err: err}
	}

	s.mu.Lock()
	s.cache[id] = cacheEntry{conv: cloneConversation(conv), fetched: s.now()}
	s.mu.Unlock()
	return conv, nil
}

func (s *fileStore) List() ([]*model.Conversation, error) {
	s.mu.Lock()
	if s.listCache != nil && s.now().Sub(s.listCache.fetched) < s.cacheTTL {
		out := append([]*model.Conversation(nil), s.listCache.conversations...)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &model.StorageError{Message: "failed to create history directory", Err: err}
	}
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, &model.StorageError{Message: "failed to read history directory", Err: err}
	}

	var ids []string
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(fi.Name(), ".json"))
	}

	// 受限并发地解析记录，避免大目录下同时打开过多文件
	results := make([]*model.Conversation, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(s.batchSize)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			s.mu.Lock()
			if e, ok := s.cache[id]; ok && s.now().Sub(e.fetched) < s.cacheTTL {
				results[i] = cloneConversation(e.conv)
				s.mu.Unlock()
				return nil
			}
			s.mu.Unlock()

			conv, err := s.readFile(id)
			if err != nil {
				// 单条损坏或不可读的记录不应拖垮整个列表
				log.Warnf("跳过无法读取的会话记录 %s: %v", id, err)
				return nil
			}
			s.mu.Lock()
			s.cache[id] = cacheEntry{conv: cloneConversation(conv), fetched: s.now()}
			s.mu.Unlock()
			results[i] = conv
			return nil
		})
	}
	_ = g.Wait()

	conversations := make([]*model.Conversation, 0, len(results))
	for _, c := range results {
		if c != nil {
			conversations = append(conversations, c)
		}
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt > conversations[j].UpdatedAt
	})

	s.mu.Lock()
	s.listCache = &listEntry{
		conversations: append([]*model.Conversation(nil), conversations...),
		fetched:       s.now(),
	}
	s.mu.Unlock()
	return conversations, nil
}

func (s *fileStore) Delete(id string) error {
	s.mu.Lock()
	delete(s.cache, id)
	s.listCache = nil
	if p, ok := s.pending[id]; ok {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if err := s.fs.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &model.NotFoundError{Message: fmt.Sprintf("conversation %s does not exist", id)}
		}
		return &model.StorageError{Message: "failed to delete conversation", Err: err}
	}
	return nil
}

func (s *fileStore) Flush() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id, p := range s.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.flushOne(id)
	}
}

func (s *fileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *fileStore) writeFile(conv *model.Conversation) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	// 快路径不做缩进，减小写入体积
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path(conv.ID), data, 0o644)
}

func (s *fileStore) readFile(id string) (*model.Conversation, error) {
	data, err := afero.ReadFile(s.fs, s.path(id))
	if err != nil {
		return nil, err
	}
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// cloneConversation 做一次浅拷贝并复制消息切片，
// 避免调用方后续追加消息影响缓存或待写快照。
func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.Messages = append([]model.Message(nil), c.Messages...)
	return &out
}
