package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_PathNaming(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 25, 14, 30, 5, 0, time.Local)

	store, err := NewStore(dir, now, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "dialogue_20260825_143005.md"), store.Path())
}

func TestStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")

	_, err := NewStore(dir, time.Now(), zap.NewNop())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, err := NewStore(t.TempDir(), time.Now(), zap.NewNop())
	require.NoError(t, err)

	doc := sampleDocument()
	require.NoError(t, store.Save(doc))

	text, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, doc.Render(), text)

	// 二次保存覆盖为最新内容
	doc.Entries = append(doc.Entries, Entry{SpeakerName: "爱丽丝", Content: "追加一句。"})
	require.NoError(t, store.Save(doc))

	text, err = store.Load()
	require.NoError(t, err)
	assert.Contains(t, text, "追加一句。")
}

func TestStore_SaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, time.Now(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleDocument()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "成功保存后不应残留临时文件")
	}
}

func TestStore_FailedSaveKeepsOriginal(t *testing.T) {
	store, err := NewStore(t.TempDir(), time.Now(), zap.NewNop())
	require.NoError(t, err)

	doc := sampleDocument()
	require.NoError(t, store.Save(doc))
	original, err := store.Load()
	require.NoError(t, err)

	// 占住临时文件路径让写入失败
	require.NoError(t, os.Mkdir(store.Path()+".tmp", 0o755))

	doc.Entries = append(doc.Entries, Entry{SpeakerName: "鲍勃", Content: "不该出现的内容"})
	assert.Error(t, store.Save(doc))

	current, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, original, current, "失败的保存不应触碰已提交的文件")
}
