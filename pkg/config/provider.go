package config

import (
	"fmt"

	"github.com/wentf9/xops-xfer/pkg/utils/concurrent"
)

// Provider 按名称/别名/用户名@地址:端口 查找配置中的主机
type Provider struct {
	cfg         *Configuration
	lookupIndex *concurrent.Map[string, string]
}

func NewProvider(cfg *Configuration) *Provider {
	provider := &Provider{
		cfg:         cfg,
		lookupIndex: concurrent.NewMap[string, string](concurrent.HashString),
	}
	provider.init()
	return provider
}

// add 将主机及其所有标识符加入索引
func (cp *Provider) add(name string, e HostEntry) {
	cp.lookupIndex.Set(name, name)
	port := e.Host.Port
	if port == 0 {
		port = 22
	}
	if e.Host.User != "" {
		cp.lookupIndex.Set(fmt.Sprintf("%s@%s:%d", e.Host.User, e.Host.Address, port), name)
		for _, addr := range e.Host.Alias {
			if addr == "" {
				continue
			}
			cp.lookupIndex.Set(fmt.Sprintf("%s@%s:%d", e.Host.User, addr, port), name)
		}
	}
	for _, alias := range e.Host.Alias {
		if alias == "" {
			continue
		}
		cp.lookupIndex.Set(alias, name)
	}
}

// Find 匹配用户输入
func (cp *Provider) Find(input string) (HostEntry, bool) {
	name, ok := cp.lookupIndex.Get(input)
	if !ok {
		return HostEntry{}, false
	}
	return cp.cfg.Hosts.Get(name)
}

// AddHost 添加或覆盖一个命名主机
func (cp *Provider) AddHost(name string, e HostEntry) {
	e.Host.ID = name
	cp.cfg.Hosts.Set(name, e)
	cp.add(name, e)
}

// ListHosts 返回所有主机的副本
func (cp *Provider) ListHosts() map[string]HostEntry {
	return cp.cfg.Hosts.Snapshot()
}

func (cp *Provider) init() {
	cp.cfg.Hosts.IterCb(func(name string, e HostEntry) bool {
		cp.add(name, e)
		return true
	})
}
