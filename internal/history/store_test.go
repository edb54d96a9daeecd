package history

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poe-talk-go/internal/config"
	"poe-talk-go/internal/model"
)

const testDir = "conversations"

func newTestStore(t *testing.T) (*fileStore, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	st := NewStore(fsys, config.HistoryConfig{
		Dir:           testDir,
		CacheTTL:      time.Minute,
		SaveDebounce:  30 * time.Millisecond,
		ListBatchSize: 4,
	}).(*fileStore)
	return st, fsys
}

func sampleConversation(title string) *model.Conversation {
	conv := model.NewConversation(title, "TestBot")
	conv.Append(model.RoleUser, title)
	return conv
}

func recordPath(id string) string {
	return filepath.Join(testDir, id+".json")
}

func TestSaveThenLoadBeforeDebounceFires(t *testing.T) {
	st, fsys := newTestStore(t)
	conv := sampleConversation("Hello")
	st.Save(conv)

	// 磁盘上还没有任何东西，读取必须命中缓存
	exists, _ := afero.Exists(fsys, recordPath(conv.ID))
	assert.False(t, exists)

	got, err := st.Load(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, conv.ID, got.ID)
	assert.Len(t, got.Messages, 1)
}

func TestLoadUnknownIDReturnsNotFound(t *testing.T) {
	st, _ := newTestStore(t)
	got, err := st.Load("conv_missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRapidSavesCoalesceIntoOneWrite(t *testing.T) {
	st, fsys := newTestStore(t)
	conv := sampleConversation("Hello")
	st.Save(conv)
	conv.Append(model.RoleAssistant, "Hi there!")
	st.Save(conv)

	// 合并窗口内不应产生任何写入
	exists, _ := afero.Exists(fsys, recordPath(conv.ID))
	assert.False(t, exists)

	require.Eventually(t, func() bool {
		ok, _ := afero.Exists(fsys, recordPath(conv.ID))
		return ok
	}, time.Second, 5*time.Millisecond)

	data, err := afero.ReadFile(fsys, recordPath(conv.ID))
	require.NoError(t, err)
	var persisted model.Conversation
	require.NoError(t, json.Unmarshal(data, &persisted))
	// 落盘的是第二次提交的状态
	assert.Len(t, persisted.Messages, 2)
	assert.Equal(t, "Hi there!", persisted.Messages[1].Content)
}

func TestFlushWritesPendingImmediately(t *testing.T) {
	st, fsys := newTestStore(t)
	conv := sampleConversation("Hello")
	st.Save(conv)

	st.Flush()

	data, err := afero.ReadFile(fsys, recordPath(conv.ID))
	require.NoError(t, err)
	var persisted model.Conversation
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, conv.ID, persisted.ID)
}

func TestWriteThroughPersistsOnEverySave(t *testing.T) {
	fsys := afero.NewMemMapFs()
	st := NewStore(fsys, config.HistoryConfig{
		Dir:          testDir,
		WriteThrough: true,
	})
	conv := sampleConversation("Hello")
	st.Save(conv)

	exists, _ := afero.Exists(fsys, recordPath(conv.ID))
	assert.True(t, exists)
}

func TestDeleteRemovesRecordAndCancelsPendingWrite(t *testing.T) {
	st, fsys := newTestStore(t)
	conv := sampleConversation("Hello")
	st.Save(conv)
	st.Flush()

	require.NoError(t, st.Delete(conv.ID))

	got, err := st.Load(conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// 再保存一次然后删除：待写任务被取消，之后不会再出现文件
	st.Save(conv)
	_ = st.Delete(conv.ID)
	time.Sleep(100 * time.Millisecond)
	exists, _ := afero.Exists(fsys, recordPath(conv.ID))
	assert.False(t, exists)
}

func TestDeleteMissingRecordPropagatesNotFound(t *testing.T) {
	st, _ := newTestStore(t)
	err := st.Delete("conv_missing")
	var nfe *model.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestListSortsNewestFirst(t *testing.T) {
	st, _ := newTestStore(t)
	old := sampleConversation("old")
	old.UpdatedAt = 1000
	mid := sampleConversation("mid")
	mid.UpdatedAt = 2000
	recent := sampleConversation("recent")
	recent.UpdatedAt = 3000
	st.Save(old)
	st.Save(recent)
	st.Save(mid)
	st.Flush()

	conversations, err := st.List()
	require.NoError(t, err)
	require.Len(t, conversations, 3)
	assert.Equal(t, "recent", conversations[0].Title)
	assert.Equal(t, "mid", conversations[1].Title)
	assert.Equal(t, "old", conversations[2].Title)
}

func TestListSkipsMalformedRecords(t *testing.T) {
	st, fsys := newTestStore(t)
	a := sampleConversation("a")
	b := sampleConversation("b")
	st.Save(a)
	st.Save(b)
	st.Flush()
	require.NoError(t, afero.WriteFile(fsys, recordPath("conv_corrupt"), []byte("{not json"), 0o644))

	conversations, err := st.List()
	require.NoError(t, err)
	assert.Len(t, conversations, 2)
}

func TestListUsesAggregateCacheWithinFreshnessWindow(t *testing.T) {
	st, fsys := newTestStore(t)
	a := sampleConversation("a")
	st.Save(a)
	st.Flush()

	first, err := st.List()
	require.NoError(t, err)
	require.Len(t, first, 1)

	// 绕过 Store 直接写入新记录：新鲜窗口内的 List 不应重新扫描
	stray := sampleConversation("stray")
	data, _ := json.Marshal(stray)
	require.NoError(t, afero.WriteFile(fsys, recordPath(stray.ID), data, 0o644))

	second, err := st.List()
	require.NoError(t, err)
	assert.Len(t, second, 1)

	// 窗口过期后重新扫描
	st.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	third, err := st.List()
	require.NoError(t, err)
	assert.Len(t, third, 2)
}

func TestSaveInvalidatesAggregateListCache(t *testing.T) {
	st, _ := newTestStore(t)
	a := sampleConversation("a")
	st.Save(a)
	st.Flush()
	_, err := st.List()
	require.NoError(t, err)

	b := sampleConversation("b")
	st.Save(b)

	conversations, err := st.List()
	require.NoError(t, err)
	assert.Len(t, conversations, 2)
}

func TestSavedSnapshotIsIsolatedFromCaller(t *testing.T) {
	st, _ := newTestStore(t)
	conv := sampleConversation("Hello")
	st.Save(conv)
	conv.Append(model.RoleAssistant, "mutated later")

	got, err := st.Load(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Messages, 1)
}

func TestClearAllRemovesEverything(t *testing.T) {
	st, fsys := newTestStore(t)
	st.Save(sampleConversation("a"))
	st.Save(sampleConversation("b"))
	st.Flush()

	removed, err := ClearAll(fsys, testDir)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	infos, err := afero.ReadDir(fsys, testDir)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestClearAllMissingDirIsNoop(t *testing.T) {
	removed, err := ClearAll(afero.NewMemMapFs(), "nope")
	require.NoError(t, err)
	assert.Zero(t, removed)
}
