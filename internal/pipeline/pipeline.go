// 包 pipeline：一次完整运行的编排（规划 -> units -> area/district/sector -> 垂直街道）
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"postcode-polygons/internal/aggregate"
	"postcode-polygons/internal/batch"
	"postcode-polygons/internal/config"
	"postcode-polygons/internal/featurefile"
	"postcode-polygons/internal/geometry"
	"postcode-polygons/internal/logger"
	"postcode-polygons/internal/metrics"
	"postcode-polygons/internal/postcode"
	"postcode-polygons/internal/progress"
	"postcode-polygons/internal/regions"
	"postcode-polygons/internal/store"
	"postcode-polygons/internal/synth"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geos"
)

// PhaseVerticalStreets：垂直街道阶段名（其余阶段以层级复数名命名）
const PhaseVerticalStreets = "vertical-streets"

// Runner：持有只读的区域集合与数据源工厂；每个 worker 由 newSession 建立自己的会话
type Runner struct {
	opts     config.Options
	regions  *regions.Set
	open     store.Opener
	progress progress.Reporter
	engine   []synth.Option
	log      *slog.Logger
}

// NewRunner：engine 选项作用于每个 worker 的合成引擎，选项中的修复实现须可并发使用
func NewRunner(opts config.Options, set *regions.Set, open store.Opener, rep progress.Reporter, engine ...synth.Option) *Runner {
	return &Runner{opts: opts, regions: set, open: open, progress: rep, engine: engine, log: logger.L()}
}

// session：worker 独占的数据源连接、GEOS 上下文、区域缓存与聚合器
type session struct {
	src    store.CellSource
	engine *synth.Engine
	agg    *aggregate.Aggregator
}

func (s *session) Close() error { return s.src.Close() }

func (r *Runner) newSession(ctx context.Context) (*session, error) {
	src, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	proj, err := geometry.NewGridToWGS84()
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	cache := regions.NewCache(r.regions, geos.NewContext())
	engine := synth.NewEngine(cache, proj, nil, r.engine...)
	return &session{src: src, engine: engine, agg: aggregate.New(src, engine)}, nil
}

type levelPlan struct {
	level    postcode.Level
	prefixes []string
}

// plan：一次运行需要处理的全部任务；配置类错误在这里暴露，早于任何任务派发
type plan struct {
	outcodes []string
	levels   []levelPlan
	streets  []store.VerticalStreet
}

func (r *Runner) plan(ctx context.Context) (*plan, error) {
	src, err := r.open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open cell source")
	}
	defer src.Close()

	p := &plan{}
	if !r.opts.SkipUnits {
		r.log.Info("listing_outcodes")
		all, err := src.ListOutcodes(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list outcodes")
		}
		if p.outcodes, err = r.restrict(all, "outcodes"); err != nil {
			return nil, err
		}
	}
	if !r.opts.SkipHigherLevels {
		for _, level := range postcode.HigherLevels {
			all, err := src.ListPrefixes(ctx, level)
			if err != nil {
				return nil, errors.Wrapf(err, "list %s", level.Plural)
			}
			prefixes, err := r.restrict(all, level.Plural)
			if err != nil {
				return nil, err
			}
			p.levels = append(p.levels, levelPlan{level: level, prefixes: prefixes})
		}
	}
	if !r.opts.SkipVerticalStreets {
		r.log.Info("listing_vertical_streets", "area", r.opts.Area)
		if p.streets, err = src.FetchVerticalStreets(ctx, r.opts.Area); err != nil {
			return nil, errors.Wrap(err, "list vertical streets")
		}
	}
	return p, nil
}

// restrict：按 --area 前缀过滤；过滤后为空属于配置错误
func (r *Runner) restrict(all []string, what string) ([]string, error) {
	if r.opts.Area == "" {
		return all, nil
	}
	var out []string
	for _, s := range all {
		if strings.HasPrefix(s, r.opts.Area) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(config.ErrConfig,
			"you said to only process the area %s but no %s were found for that area", r.opts.Area, what)
	}
	return out, nil
}

// 文档注释：执行一次完整运行
// 背景：先规划全部任务，再依次运行各阶段；阶段内任务并行，单个任务失败只记录诊断。
// 返回：各阶段统计；仅规划失败（配置 / 数据源）或 ctx 取消时返回错误。
func (r *Runner) Run(ctx context.Context) (map[string]batch.Summary, error) {
	if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}
	p, err := r.plan(ctx)
	if err != nil {
		return nil, err
	}
	report := map[string]batch.Summary{}

	if !r.opts.SkipUnits {
		job := batch.Job[*session, string]{
			Phase:    postcode.Unit.Plural,
			Workers:  r.opts.Workers,
			Open:     r.newSession,
			Key:      func(s string) string { return s },
			Progress: r.progress,
			Do: func(ctx context.Context, s *session, outcode string) error {
				return r.write(postcode.Unit.Subpath(outcode), postcode.Unit.Singular, func(emit aggregate.Emit) error {
					return s.agg.BuildUnits(ctx, outcode, emit)
				})
			},
		}
		if report[job.Phase], err = job.Run(ctx, p.outcodes); err != nil {
			return report, err
		}
	}

	for _, lp := range p.levels {
		level := lp.level
		r.log.Info("level_start", "level", level.Plural, "example_prefixes", example(lp.prefixes))
		job := batch.Job[*session, string]{
			Phase:    level.Plural,
			Workers:  r.opts.Workers,
			Open:     r.newSession,
			Key:      func(s string) string { return s },
			Progress: r.progress,
			Do: func(ctx context.Context, s *session, prefix string) error {
				return r.write(level.Subpath(prefix), level.Singular, func(emit aggregate.Emit) error {
					return s.agg.BuildLevel(ctx, level, prefix, emit)
				})
			},
		}
		if report[job.Phase], err = job.Run(ctx, lp.prefixes); err != nil {
			return report, err
		}
	}

	if !r.opts.SkipVerticalStreets {
		job := batch.Job[*session, store.VerticalStreet]{
			Phase:    PhaseVerticalStreets,
			Workers:  r.opts.Workers,
			Open:     r.newSession,
			Key:      aggregate.VerticalStreetSubpath,
			Progress: r.progress,
			Do:       r.verticalStreet,
		}
		if report[job.Phase], err = job.Run(ctx, p.streets); err != nil {
			return report, err
		}
	}
	return report, nil
}

// verticalStreet：区域不唯一或无法修复时跳过并记录诊断，不算任务失败
func (r *Runner) verticalStreet(ctx context.Context, s *session, vs store.VerticalStreet) error {
	f, err := s.agg.BuildVerticalStreet(ctx, vs)
	var ambiguous *aggregate.AmbiguousRegionError
	if errors.As(err, &ambiguous) || errors.Is(err, geometry.ErrUnrepairable) {
		r.log.Warn("vertical_street_skipped", "x", vs.X, "y", vs.Y, "postcodes", strings.Join(vs.Postcodes, ","), "err", err)
		metrics.DroppedTotal.WithLabelValues(aggregate.Reason(err)).Inc()
		return nil
	}
	if err != nil {
		return err
	}
	return r.write(aggregate.VerticalStreetSubpath(vs), "vertical_street", func(emit aggregate.Emit) error {
		return emit(f)
	})
}

// write：流式写出一个文件；构建失败或 panic 时关闭并删除未完成的文件
func (r *Runner) write(subpath, level string, build func(aggregate.Emit) error) error {
	path := filepath.Join(r.opts.OutputDir, subpath)
	w, err := featurefile.Create(path)
	if err != nil {
		return err
	}
	done := false
	defer func() {
		if !done {
			_ = w.Close()
			_ = os.Remove(path)
		}
	}()
	err = build(func(f aggregate.Feature) error {
		if err := w.Add(f.Properties, f.Geom); err != nil {
			return err
		}
		metrics.FeaturesWritten.WithLabelValues(level).Inc()
		return nil
	})
	if err != nil {
		return err
	}
	done = true
	if err := w.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func example(prefixes []string) []string {
	if len(prefixes) > 5 {
		return prefixes[:5]
	}
	return prefixes
}
