package history

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"poe-talk-go/internal/model"
)

// ClearAll 删除目录下所有持久化的会话记录文件并返回删除数量。
// 这是“清空历史”命令使用的独立路径，不经过任何缓存层。
func ClearAll(fsys afero.Fs, dir string) (int, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &model.StorageError{Message: "failed to read history directory", Err: err}
	}

	removed := 0
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".json") {
			continue
		}
		if err := fsys.Remove(filepath.Join(dir, fi.Name())); err != nil {
			return removed, &model.StorageError{Message: "failed to remove conversation file", Err: err}
		}
		removed++
	}
	return removed, nil
}
