package transfer

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// RunBounded 对每个 item 调用 worker, 同时运行的 worker 不超过 limit 个
// 任意一个完成后立即启动下一个 (滑动窗口, 不按批次等待)
// 有 worker 失败后不再启动新的 item, 已启动的继续运行直到结束, 返回第一个错误
// 这一层不会主动取消 ctx, 取消由调用方的 ctx 传递给每个 worker
func RunBounded[T any](ctx context.Context, items []T, limit int, worker func(context.Context, T) error) error {
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	var failed atomic.Bool
	for _, item := range items {
		if failed.Load() {
			break
		}
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			if err := worker(ctx, item); err != nil {
				failed.Store(true)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
