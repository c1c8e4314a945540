package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const fileStoreCache = 512

// FileStore 以 JSON Lines 追加写的方式记录执行步骤，适合单机使用。
type FileStore struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
}

// NewFileStore 创建文件存储，并从已有文件恢复最近的记录。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = filepath.Join(".", "journal.jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	store := &FileStore{path: path}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Append 以追加写的方式记录执行步骤。
func (f *FileStore) Append(_ context.Context, entry Entry) error {
	entry = normalize(entry)

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开执行记录失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化执行记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入执行记录失败: %w", err)
	}

	f.entries = append([]Entry{entry}, f.entries...)
	if len(f.entries) > fileStoreCache {
		f.entries = f.entries[:fileStoreCache]
	}
	return nil
}

// ListLatest 返回最近的执行记录，按时间倒序排列。
func (f *FileStore) ListLatest(_ context.Context, limit int) ([]Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if limit <= 0 || limit > len(f.entries) {
		limit = len(f.entries)
	}
	results := make([]Entry, limit)
	copy(results, f.entries[:limit])
	return results, nil
}

// Close 文件存储无需释放资源。
func (f *FileStore) Close() error { return nil }

func (f *FileStore) loadFromDisk() error {
	file, err := os.OpenFile(f.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取执行记录失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []Entry
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		restored = append([]Entry{entry}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析执行记录失败: %w", err)
	}
	if len(restored) > fileStoreCache {
		restored = restored[:fileStoreCache]
	}
	f.entries = restored
	return nil
}
