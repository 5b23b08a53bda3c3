package pool

// HostStatus 单个主机的会话统计
type HostStatus struct {
	Total  int `json:"total" yaml:"total"`
	Active int `json:"active" yaml:"active"`
	Idle   int `json:"idle" yaml:"idle"`
}

// Status 连接池快照
type Status struct {
	Total  int                   `json:"total" yaml:"total"`
	Active int                   `json:"active" yaml:"active"`
	Idle   int                   `json:"idle" yaml:"idle"`
	ByHost map[string]HostStatus `json:"by_host" yaml:"by_host"`
}

// Status 返回只读快照, 没有会话的主机不会出现在 ByHost 中
func (p *Pool) Status() Status {
	st := Status{ByHost: make(map[string]HostStatus)}
	p.hosts.IterCb(func(key string, hp *hostPool) bool {
		hp.mu.Lock()
		var hs HostStatus
		for _, s := range hp.sessions {
			hs.Total++
			if s.inUse {
				hs.Active++
			} else {
				hs.Idle++
			}
		}
		hp.mu.Unlock()
		if hs.Total == 0 {
			return true
		}
		st.ByHost[key] = hs
		st.Total += hs.Total
		st.Active += hs.Active
		st.Idle += hs.Idle
		return true
	})
	return st
}
