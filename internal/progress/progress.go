// 包 progress：批处理阶段的进度汇报（日志 / Redis），与完成顺序无关，只累计完成数
package progress

import (
	"log/slog"
	"sync"
	"time"

	"postcode-polygons/internal/logger"
)

// Reporter：阶段进度接收者；Done 会被多个 worker 并发调用
type Reporter interface {
	Start(phase string, total int)
	Done(phase, key string, err error)
	Finish(phase string)
}

// Log：按完成数每 1% 输出一条进度日志
type Log struct {
	mu     sync.Mutex
	log    *slog.Logger
	phases map[string]*counter
}

type counter struct {
	total, done, failed int
	step                int
	started             time.Time
}

func NewLog() *Log {
	return &Log{log: logger.L(), phases: map[string]*counter{}}
}

func (l *Log) Start(phase string, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	step := total / 100
	if step < 1 {
		step = 1
	}
	l.phases[phase] = &counter{total: total, step: step, started: time.Now()}
	l.log.Info("phase_start", "phase", phase, "total", total)
}

func (l *Log) Done(phase, key string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.phases[phase]
	if c == nil {
		return
	}
	c.done++
	if err != nil {
		c.failed++
	}
	if c.done%c.step == 0 || c.done == c.total {
		l.log.Info("phase_progress", "phase", phase, "done", c.done, "total", c.total, "failed", c.failed)
	}
}

func (l *Log) Finish(phase string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.phases[phase]
	if c == nil {
		return
	}
	l.log.Info("phase_done", "phase", phase, "done", c.done, "failed", c.failed, "elapsed_ms", time.Since(c.started).Milliseconds())
}

// Snapshot：某阶段当前的完成数与失败数
func (l *Log) Snapshot(phase string) (done, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.phases[phase]; c != nil {
		return c.done, c.failed
	}
	return 0, 0
}

// Multi：依次转发给多个 Reporter；nil 成员被忽略
type Multi []Reporter

func (m Multi) Start(phase string, total int) {
	for _, r := range m {
		if r != nil {
			r.Start(phase, total)
		}
	}
}

func (m Multi) Done(phase, key string, err error) {
	for _, r := range m {
		if r != nil {
			r.Done(phase, key, err)
		}
	}
}

func (m Multi) Finish(phase string) {
	for _, r := range m {
		if r != nil {
			r.Finish(phase)
		}
	}
}
