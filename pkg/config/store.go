package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/wentf9/xops-xfer/pkg/utils/file"
	"gopkg.in/yaml.v3"
)

type Store interface {
	Load() (*Configuration, error)
	Save(cfg *Configuration) error
}

type defaultStore struct {
	Path string
}

// Load 读取配置文件, 文件不存在时返回默认配置
// 文件中没有出现的字段保持默认值
func (s *defaultStore) Load() (*Configuration, error) {
	cfg := DefaultConfiguration()
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", s.Path, err)
	}
	// 主机名即连接池使用的 ID
	for _, name := range cfg.Hosts.Keys() {
		if entry, ok := cfg.Hosts.Get(name); ok {
			entry.Host.ID = name
			cfg.Hosts.Set(name, entry)
		}
	}
	return cfg, nil
}

func (s *defaultStore) Save(cfg *Configuration) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return file.CreateFileRecursive(s.Path, data, 0o600)
}

func NewDefaultStore(path string) Store {
	return &defaultStore{
		Path: path,
	}
}
