// 包 synth：单个邮编实体的多边形合成（合并 -> 海岸线裁剪 -> 投影 -> 有效性修复）
package synth

import (
	"postcode-polygons/internal/geometry"
	"postcode-polygons/internal/metrics"
	"postcode-polygons/internal/postcode"
	"postcode-polygons/internal/regions"

	"github.com/twpayne/go-geos"
)

// 文档注释：判断合并后的多边形是否需要按海岸线裁剪
// 背景：裁剪（相交运算）代价高；若提示可解析为 sector 且该 sector 在每个相关区域的内陆表中，直接跳过。
// 否则逐顶点检查是否落在区域联合海岸线之外，命中第一个即返回 true。
// 约束：仅检查顶点，不检查边与海岸线在顶点之间的交叉；这是已知的近似，保持原样。
func RequiresClipping(cache *regions.Cache, p geometry.Polygonal, codes []string, hint string) (bool, error) {
	if inlandShortcut(cache.Set().Inland, codes, hint) {
		return false, nil
	}
	coast, err := cache.Union(codes)
	if err != nil {
		return false, err
	}
	outside := false
	p.EachVertex(func(x, y float64) bool {
		if !coast.Covers(x, y) || !coast.ContainsXY(x, y) {
			outside = true
			return false
		}
		return true
	})
	return outside, nil
}

func inlandShortcut(inland regions.Inland, codes []string, hint string) bool {
	if inland == nil || len(codes) == 0 {
		return false
	}
	sector := postcode.SectorOf(hint)
	if sector == "" {
		return false
	}
	for _, code := range codes {
		if !inland.Contains(code, sector) {
			return false
		}
	}
	return true
}

// 文档注释：按需裁剪
// 约束：与海岸线不相交时保留原多边形（空交集会静默丢失有效陆地）；
// 交集退化为异构集合时仅保留面状成员，若无面状成员同样保留原多边形。
func Clip(cache *regions.Cache, p geometry.Polygonal, codes []string, hint string) (geometry.Polygonal, bool, error) {
	need, err := RequiresClipping(cache, p, codes, hint)
	if err != nil {
		return p, false, err
	}
	if !need {
		metrics.ClipsTotal.WithLabelValues("inside").Inc()
		return p, false, nil
	}
	coast, err := cache.Union(codes)
	if err != nil {
		return p, false, err
	}
	if !p.Geom.Intersects(coast.Geom) {
		metrics.ClipsTotal.WithLabelValues("disjoint").Inc()
		return p, false, nil
	}
	cut := p.Geom.Intersection(coast.Geom)
	if t := cut.TypeID(); t != geos.PolygonTypeID && t != geos.MultiPolygonTypeID {
		flat, ok := geometry.Flatten(cache.Context(), cut)
		if !ok {
			metrics.ClipsTotal.WithLabelValues("not_polygonal").Inc()
			return p, false, nil
		}
		cut = flat
	}
	out, err := geometry.AsPolygonal(cut, "clip")
	if err != nil {
		return p, false, err
	}
	metrics.ClipsTotal.WithLabelValues("clipped").Inc()
	return out, true, nil
}
