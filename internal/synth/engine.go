package synth

import (
	"log/slog"

	"postcode-polygons/internal/geometry"
	"postcode-polygons/internal/logger"
	"postcode-polygons/internal/metrics"
	"postcode-polygons/internal/regions"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geos"
)

// Engine：绑定到单个 worker 的合成器；几何都属于 cache 的 geos.Context
type Engine struct {
	cache  *regions.Cache
	proj   *geometry.Reprojector
	repair geometry.Repairer
	valid  func(*geos.Geom) bool
	log    *slog.Logger
}

// Option：调整引擎的修复与有效性判定
type Option func(*Engine)

// WithRepairer：替换修复实现（nil 保持默认）
func WithRepairer(r geometry.Repairer) Option {
	return func(e *Engine) {
		if r != nil {
			e.repair = r
		}
	}
}

// WithValidity：替换投影后有效性判定，默认 (*geos.Geom).IsValid
func WithValidity(fn func(*geos.Geom) bool) Option {
	return func(e *Engine) {
		if fn != nil {
			e.valid = fn
		}
	}
}

// NewEngine：repair 为 nil 时使用 GEOS MakeValid
func NewEngine(cache *regions.Cache, proj *geometry.Reprojector, repair geometry.Repairer, opts ...Option) *Engine {
	if repair == nil {
		repair = geometry.MakeValid{Ctx: cache.Context()}
	}
	e := &Engine{cache: cache, proj: proj, repair: repair, valid: (*geos.Geom).IsValid, log: logger.L()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context：引擎使用的 geos.Context
func (e *Engine) Context() *geos.Context { return e.cache.Context() }

// Cache：引擎使用的区域缓存
func (e *Engine) Cache() *regions.Cache { return e.cache }

// ParseWKB：在引擎的 Context 中解析数据源返回的 WKB
func (e *Engine) ParseWKB(wkbs [][]byte) ([]*geos.Geom, error) {
	out := make([]*geos.Geom, 0, len(wkbs))
	for _, b := range wkbs {
		g, err := e.Context().NewGeomFromWKB(b)
		if err != nil {
			return nil, errors.Wrap(err, "decode cell polygon")
		}
		out = append(out, g)
	}
	return out, nil
}

// 文档注释：平面阶段（合并 + 裁剪），结果仍为 EPSG:27700
func (e *Engine) Planar(cells []*geos.Geom, codes []string, hint string) (geometry.Polygonal, error) {
	p, err := e.union(cells)
	if err != nil {
		return geometry.Polygonal{}, err
	}
	clipped, _, err := Clip(e.cache, p, codes, hint)
	return clipped, err
}

// NeedsClipping：单元格合并后是否有顶点落在区域海岸线之外（总是走完整顶点扫描，用于生成内陆表）
func (e *Engine) NeedsClipping(cells []*geos.Geom, codes []string) (bool, error) {
	p, err := e.union(cells)
	if err != nil {
		return false, err
	}
	return RequiresClipping(e.cache, p, codes, "")
}

func (e *Engine) union(cells []*geos.Geom) (geometry.Polygonal, error) {
	union, err := geometry.UnionAll(e.Context(), cells)
	if err != nil {
		return geometry.Polygonal{}, err
	}
	if union.TypeID() == geos.GeometryCollectionTypeID {
		flat, ok := geometry.Flatten(e.Context(), union)
		if !ok {
			return geometry.Polygonal{}, geometry.ErrEmpty
		}
		union = flat
	}
	if union.IsEmpty() {
		return geometry.Polygonal{}, geometry.ErrEmpty
	}
	return geometry.AsPolygonal(union, "union")
}

// 文档注释：合成一个实体的地理坐标多边形
// 背景：步骤为 合并单元格 -> 判定并裁剪 -> 投影到 WGS84 -> 无效则修复。
// 异常：区域缺失 -> regions.MissingRegionError；非面状几何 -> geometry.UnsupportedGeometryError；
// 修复无结果 -> geometry.ErrUnrepairable（调用方丢弃并记录，不做替代）。不重试。
func (e *Engine) Synthesize(cells []*geos.Geom, codes []string, hint string) (*geos.Geom, error) {
	planar, err := e.Planar(cells, codes, hint)
	if err != nil {
		return nil, err
	}
	geo, err := e.proj.Polygonal(e.Context(), planar)
	if err != nil {
		return nil, err
	}
	if e.valid(geo.Geom) {
		return geo.Geom, nil
	}
	e.log.Warn("polygon_repair", "hint", hint, "regions", regions.Key(codes))
	metrics.RepairsTotal.Inc()
	fixed := e.repair.Repair(geo.Geom)
	if fixed == nil {
		return nil, errors.Wrapf(geometry.ErrUnrepairable, "polygon for %q", hint)
	}
	return fixed, nil
}
