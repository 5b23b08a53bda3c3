package transfer

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// progressInterval 单个分块两次进度上报的最小间隔
const progressInterval = 100 * time.Millisecond

// ProgressFunc 接收 (已传输字节, 总字节)
type ProgressFunc func(transferred, total int64)

// ProgressTable 一次传输中每个分块已传输的字节数, 可被多个 worker 并发更新
type ProgressTable struct {
	mu     sync.Mutex
	chunks map[int]int64
}

func NewProgressTable() *ProgressTable {
	return &ProgressTable{chunks: make(map[int]int64)}
}

// Set 更新分块的已传输字节数, 比已记录值小时忽略
func (t *ProgressTable) Set(index int, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > t.chunks[index] {
		t.chunks[index] = n
	}
}

// Get 返回分块的已传输字节数
func (t *ProgressTable) Get(index int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunks[index]
}

// Sum 返回所有分块之和
func (t *ProgressTable) Sum() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum int64
	for _, n := range t.chunks {
		sum += n
	}
	return sum
}

// reporter 把进度转发给调用方的回调, 保证上报值单调不减
// 回退到整文件传输时从 0 重新计数的进度会被吞掉, 直到超过已上报的值
type reporter struct {
	mu    sync.Mutex
	fn    ProgressFunc
	total int64
	last  int64
}

func newReporter(fn ProgressFunc, total int64) *reporter {
	return &reporter{fn: fn, total: total}
}

// start 上报 (0, total)
func (r *reporter) start() {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn(0, r.total)
}

func (r *reporter) report(n int64) {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n = min(n, r.total)
	if n <= r.last {
		return
	}
	r.last = n
	r.fn(n, r.total)
}

// finish 上报 (total, total), 即使之前已经到达 total
func (r *reporter) finish() {
	if r.fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = r.total
	r.fn(r.total, r.total)
}

// chunkProgress 单个分块的进度上报, 节流到每 100ms 最多一次
type chunkProgress struct {
	index int
	table *ProgressTable
	rep   *reporter
	every rate.Sometimes
}

func newChunkProgress(index int, table *ProgressTable, rep *reporter) *chunkProgress {
	return &chunkProgress{
		index: index,
		table: table,
		rep:   rep,
		every: rate.Sometimes{Interval: progressInterval},
	}
}

func (p *chunkProgress) update(n int64) {
	p.every.Do(func() {
		p.flush(n)
	})
}

// flush 不经节流直接上报, 分块结束时调用
func (p *chunkProgress) flush(n int64) {
	p.table.Set(p.index, n)
	p.rep.report(p.table.Sum())
}

// streamProgress 整文件传输的进度上报
type streamProgress struct {
	rep   *reporter
	every rate.Sometimes
}

func newStreamProgress(rep *reporter) *streamProgress {
	return &streamProgress{rep: rep, every: rate.Sometimes{Interval: progressInterval}}
}

func (p *streamProgress) update(n int64) {
	p.every.Do(func() {
		p.rep.report(n)
	})
}
