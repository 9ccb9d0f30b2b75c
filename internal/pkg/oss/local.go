package oss

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore 以本地目录代替 OSS，对象 key 映射为相对路径
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create pose data dir: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(objectKey string) (string, error) {
	clean := filepath.Clean("/" + objectKey)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", objectKey)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalStore) Put(_ context.Context, objectKey string, data []byte) error {
	p, err := s.path(objectKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (s *LocalStore) Get(_ context.Context, objectKey string) ([]byte, error) {
	p, err := s.path(objectKey)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (s *LocalStore) Delete(_ context.Context, objectKey string) error {
	p, err := s.path(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PurgeOlderThan 删除修改时间早于 cutoff 的文件，返回删除数量
func (s *LocalStore) PurgeOlderThan(cutoff time.Time, dryRun bool) (int, error) {
	removed := 0
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			return nil
		}
		if !dryRun {
			if err := os.Remove(p); err != nil {
				return err
			}
		}
		removed++
		return nil
	})
	return removed, err
}

// Keys 列出目录下全部对象 key，按路径排序
func (s *LocalStore) Keys() ([]string, error) {
	var keys []string
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, err
}
