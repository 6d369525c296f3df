// 包 logger：统一初始化与获取日志器；批处理各阶段与各 worker 共用同一个进程级日志器
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	defaultLogger atomic.Pointer[slog.Logger]
	initOnce      sync.Once
)

// Setup：按环境变量初始化默认日志器并输出到标准错误
// 约束：LOG_LEVEL 取 debug/info/warn/error，LOG_FORMAT=json 时输出 JSON，其余为文本
func Setup() *slog.Logger {
	return SetupWriter(os.Stderr)
}

// SetupWriter：同 Setup，但允许指定输出目标（测试中用于捕获诊断日志）
func SetupWriter(w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var h slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	l := slog.New(h)
	defaultLogger.Store(l)
	return l
}

// WithRun：为默认日志器附加 run_id，一次运行内的所有事件可按该键检索
func WithRun(runID string) *slog.Logger {
	l := L().With("run_id", runID)
	defaultLogger.Store(l)
	return l
}

// L：获取默认日志器；未初始化时回退到 Setup，并发首次调用只初始化一次
func L() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	initOnce.Do(func() {
		if defaultLogger.Load() == nil {
			Setup()
		}
	})
	return defaultLogger.Load()
}
