// 包 batch：固定大小的 worker 池；每个前缀（或垂直街道组）一个任务，任务之间互不影响
package batch

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"postcode-polygons/internal/logger"
	"postcode-polygons/internal/metrics"
	"postcode-polygons/internal/progress"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Job：一个阶段的任务定义
// 约束：S 为 worker 独占的会话（数据库连接、几何上下文等），首次处理任务时建立，worker 退出时关闭；
// Do 的失败只记录诊断，不重试，也不影响其他任务。
type Job[S io.Closer, T any] struct {
	Phase    string
	Workers  int
	Open     func(ctx context.Context) (S, error)
	Key      func(T) string
	Do       func(ctx context.Context, s S, item T) error
	Progress progress.Reporter
}

// Summary：阶段统计
type Summary struct {
	Total     int
	Completed int
	Failed    int
}

// 文档注释：执行全部任务，完成顺序不做保证
// 返回：只有 ctx 取消时返回错误；单个任务失败计入 Summary.Failed。
func (j Job[S, T]) Run(ctx context.Context, items []T) (Summary, error) {
	l := logger.L()
	workers := j.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) && len(items) > 0 {
		workers = len(items)
	}
	if j.Progress != nil {
		j.Progress.Start(j.Phase, len(items))
		defer j.Progress.Finish(j.Phase)
	}
	var completed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan T)
	g.Go(func() error {
		defer close(queue)
		for _, it := range items {
			select {
			case queue <- it:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for worker := range workers {
		g.Go(func() error {
			var (
				sess   S
				opened bool
			)
			defer func() {
				if opened {
					if err := sess.Close(); err != nil {
						l.Warn("session_close_error", "phase", j.Phase, "worker", worker, "err", err)
					}
				}
			}()
			for it := range queue {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				key := j.Key(it)
				start := time.Now()
				var err error
				if !opened {
					sess, err = j.Open(gctx)
					if err == nil {
						opened = true
						l.Debug("session_open", "phase", j.Phase, "worker", worker)
					} else {
						err = errors.Wrap(err, "open worker session")
					}
				}
				if opened {
					err = j.safeDo(gctx, sess, it)
				}
				metrics.TaskDurationMs.WithLabelValues(j.Phase).Observe(float64(time.Since(start).Milliseconds()))
				if err != nil {
					failed.Add(1)
					metrics.TasksTotal.WithLabelValues(j.Phase, "failed").Inc()
					l.Error("task_failed", "phase", j.Phase, "key", key, "err", err)
				} else {
					metrics.TasksTotal.WithLabelValues(j.Phase, "ok").Inc()
				}
				completed.Add(1)
				if j.Progress != nil {
					j.Progress.Done(j.Phase, key, err)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return Summary{Total: len(items), Completed: int(completed.Load()), Failed: int(failed.Load())}, err
}

// safeDo：GEOS 绑定在拓扑异常时可能 panic，转为该任务的错误
func (j Job[S, T]) safeDo(ctx context.Context, s S, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return j.Do(ctx, s, item)
}
