// 包 aggregate：按层级把单元格合成为邮编实体（unit / sector / district / area / 垂直街道）
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"postcode-polygons/internal/geometry"
	"postcode-polygons/internal/logger"
	"postcode-polygons/internal/metrics"
	"postcode-polygons/internal/postcode"
	"postcode-polygons/internal/regions"
	"postcode-polygons/internal/store"
	"postcode-polygons/internal/synth"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geos"
)

// MapitCodeKey：去空白后的编码属性名
const MapitCodeKey = "mapit_code"

// ErrGeometryPanic：GEOS 以 panic 报告的错误（如 TopologyException），已在单个实体内恢复
var ErrGeometryPanic = errors.New("geometry engine panic")

// Feature：一个待写出的要素（WGS84 几何 + 属性）
type Feature struct {
	Properties map[string]string
	Geom       *geos.Geom
}

// Emit：逐个接收要素；返回错误时终止当前任务
type Emit func(Feature) error

// Aggregator：一个 worker 的聚合器，数据源与引擎均为该 worker 独占
type Aggregator struct {
	src    store.CellSource
	engine *synth.Engine
	log    *slog.Logger
}

func New(src store.CellSource, engine *synth.Engine) *Aggregator {
	return &Aggregator{src: src, engine: engine, log: logger.L()}
}

// 文档注释：合成一个 outcode 下全部 unit，按 unit 编码升序输出
// 背景：每个 unit 的单元格按区域分组，逐区域合成后再合并为一个要素。
// 约束：单个 unit 失败（包括 GEOS panic）只跳过该 unit 并记录诊断；emit 或数据源出错时返回错误。
func (a *Aggregator) BuildUnits(ctx context.Context, outcode string, emit Emit) error {
	units, err := a.src.FetchUnits(ctx, postcode.Unit, outcode)
	if err != nil {
		return errors.Wrapf(err, "list units of %s", outcode)
	}
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		groups, err := a.src.FetchCells(ctx, []string{unit})
		if err != nil {
			return errors.Wrapf(err, "fetch cells of %s", unit)
		}
		geom, err := guard(func() (*geos.Geom, error) {
			return a.mergeRegions(groups, unit)
		})
		if err != nil {
			a.skip("unit_skipped", unit, err)
			continue
		}
		f := Feature{
			Properties: map[string]string{
				"postcodes":  unit,
				MapitCodeKey: postcode.Normalize(unit),
			},
			Geom: geom,
		}
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

// 文档注释：合成一个 sector / district / area 实体
// 背景：前缀下全部 unit 的单元格汇总后按区域分组；每组分别按自身海岸线裁剪，最后跨区域合并。
// 约束：先合并再按单一海岸线裁剪会错误裁掉属于其他区域的部分，因此必须先分组。
// 全部区域片段都无法修复时不输出要素，只记录诊断。
func (a *Aggregator) BuildLevel(ctx context.Context, level postcode.Level, prefix string, emit Emit) error {
	units, err := a.src.FetchUnits(ctx, level, prefix)
	if err != nil {
		return errors.Wrapf(err, "list units of %s %s", level.Singular, prefix)
	}
	if len(units) == 0 {
		return nil
	}
	groups, err := a.src.FetchCells(ctx, units)
	if err != nil {
		return errors.Wrapf(err, "fetch cells of %s %s", level.Singular, prefix)
	}
	geom, err := guard(func() (*geos.Geom, error) {
		return a.mergeRegions(groups, prefix)
	})
	if errors.Is(err, geometry.ErrUnrepairable) {
		a.skip(level.Singular+"_skipped", prefix, err)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "%s %s", level.Singular, prefix)
	}
	return emit(Feature{
		Properties: map[string]string{
			level.Singular: prefix,
			MapitCodeKey:   postcode.Normalize(prefix),
		},
		Geom: geom,
	})
}

// mergeRegions：逐区域合成并合并；无法修复的区域片段被丢弃，全部丢弃时返回 ErrUnrepairable
func (a *Aggregator) mergeRegions(groups []store.RegionCells, hint string) (*geos.Geom, error) {
	if len(groups) == 0 {
		return nil, geometry.ErrEmpty
	}
	pieces := make([]*geos.Geom, 0, len(groups))
	for _, g := range groups {
		cells, err := a.engine.ParseWKB(g.Polygons)
		if err != nil {
			return nil, err
		}
		piece, err := a.engine.Synthesize(cells, []string{g.RegionCode}, hint)
		switch {
		case errors.Is(err, geometry.ErrUnrepairable), errors.Is(err, geometry.ErrEmpty):
			a.log.Warn("region_piece_dropped", "entity", hint, "region", g.RegionCode, "err", err)
			metrics.DroppedTotal.WithLabelValues("region_piece").Inc()
			continue
		case err != nil:
			return nil, err
		}
		pieces = append(pieces, piece)
	}
	if len(pieces) == 0 {
		return nil, errors.Wrapf(geometry.ErrUnrepairable, "no usable region piece for %q", hint)
	}
	if len(pieces) == 1 {
		return pieces[0], nil
	}
	merged, err := geometry.UnionAll(a.engine.Context(), pieces)
	if err != nil {
		return nil, err
	}
	if merged.TypeID() == geos.GeometryCollectionTypeID {
		flat, ok := geometry.Flatten(a.engine.Context(), merged)
		if !ok {
			return nil, geometry.ErrEmpty
		}
		merged = flat
	}
	return merged, nil
}

// guard：把 fn 内的 panic 转为 ErrGeometryPanic，失败范围限定在当前实体
func guard[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out, err = zero, errors.Wrapf(ErrGeometryPanic, "%v", r)
		}
	}()
	return fn()
}

func (a *Aggregator) skip(event, entity string, err error) {
	a.log.Warn(event, "entity", entity, "err", err)
	metrics.DroppedTotal.WithLabelValues(Reason(err)).Inc()
}

// Reason：诊断与指标使用的失败分类
func Reason(err error) string {
	var missing *regions.MissingRegionError
	var unsupported *geometry.UnsupportedGeometryError
	var ambiguous *AmbiguousRegionError
	switch {
	case errors.As(err, &missing):
		return "missing_region"
	case errors.As(err, &unsupported):
		return "unsupported_geometry"
	case errors.As(err, &ambiguous):
		return "ambiguous_region"
	case errors.Is(err, geometry.ErrUnrepairable):
		return "unrepairable"
	case errors.Is(err, geometry.ErrEmpty):
		return "empty"
	case errors.Is(err, ErrGeometryPanic):
		return "geometry_panic"
	default:
		return "error"
	}
}

// AmbiguousRegionError：垂直街道跨越多个区域，无法确定裁剪用的海岸线
type AmbiguousRegionError struct {
	X, Y    float64
	Regions []string
}

func (e *AmbiguousRegionError) Error() string {
	return fmt.Sprintf("multiple region codes %s found at POINT (%v %v)", strings.Join(e.Regions, ","), e.X, e.Y)
}
