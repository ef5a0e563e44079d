// 文件: pkg/security/registry.go

package security

import (
	"sort"
	"sync"
)

// Registry 证券注册表 (ticker -> Security)
type Registry struct {
	mu   sync.RWMutex
	secs map[string]*Security
}

func NewRegistry() *Registry {
	return &Registry{secs: make(map[string]*Security)}
}

// Add 注册证券，已存在则覆盖
func (r *Registry) Add(s *Security) {
	r.mu.Lock()
	r.secs[s.Ticker] = s
	r.mu.Unlock()
}

func (r *Registry) Get(ticker string) (*Security, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.secs[ticker]
	return s, ok
}

// All 按 ticker 排序返回
func (r *Registry) All() []*Security {
	r.mu.RLock()
	out := make([]*Security, 0, len(r.secs))
	for _, s := range r.secs {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}
