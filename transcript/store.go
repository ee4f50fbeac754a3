package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store 将对话文档持久化到单个文件。
//
// 写入走临时文件 + 原子重命名：并发读者永远看不到半写状态，
// 写入中途崩溃时上一个完整版本原样保留。互斥锁串行化全部写入——
// 重命名本身对并发写者并不安全，即使当前编排严格串行也保留该保护。
type Store struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore 创建指向 dir/dialogue_<时间戳>.md 的存储，目录不存在则创建。
func NewStore(dir string, now time.Time, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("dialogue_%s.md", now.Format("20060102_150405")))
	return &Store{path: path, logger: logger}, nil
}

// Path 返回文档的磁盘路径。
func (s *Store) Path() string { return s.path }

// Save 渲染并原子写入文档。
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := []byte(doc.Render())
	tmp := s.path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		// 重命名失败时清理临时文件，原文件未被触碰
		_ = os.Remove(tmp)
		return fmt.Errorf("替换对话记录失败: %w", err)
	}

	s.logger.Debug("对话记录已保存",
		zap.String("path", s.path),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Load 读取当前已提交的文档文本。
func (s *Store) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("读取对话记录失败: %w", err)
	}
	return string(data), nil
}
