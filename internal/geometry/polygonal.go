// 包 geometry：面状几何（Polygon / MultiPolygon）的统一表示、坐标遍历、投影转换与无效几何修复
package geometry

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geos"
)

// Kind：面状几何的两种形态
type Kind int

const (
	KindPolygon Kind = iota + 1
	KindMultiPolygon
)

func (k Kind) String() string {
	switch k {
	case KindPolygon:
		return "Polygon"
	case KindMultiPolygon:
		return "MultiPolygon"
	}
	return "Unknown"
}

// ErrUnrepairable：投影后几何无效且修复无结果；调用方丢弃该单元并记录诊断
var ErrUnrepairable = errors.New("geometry invalid and could not be repaired")

// ErrEmpty：输入的单元格集合为空或合并后为空
var ErrEmpty = errors.New("empty geometry")

// UnsupportedGeometryError：遇到既不是 Polygon 也不是 MultiPolygon 的几何
type UnsupportedGeometryError struct {
	Type string
	Op   string
}

func (e *UnsupportedGeometryError) Error() string {
	return fmt.Sprintf("unsupported geometry type %s during %s", e.Type, e.Op)
}

// Polygonal：已确认形态的面状几何；Geom 归属于创建它的 geos.Context
type Polygonal struct {
	Kind Kind
	Geom *geos.Geom
}

// 文档注释：将任意几何收窄为面状几何
// 约束：只接受 Polygon / MultiPolygon；GeometryCollection 需先经 Flatten 处理。
func AsPolygonal(g *geos.Geom, op string) (Polygonal, error) {
	if g == nil {
		return Polygonal{}, ErrEmpty
	}
	switch g.TypeID() {
	case geos.PolygonTypeID:
		return Polygonal{Kind: KindPolygon, Geom: g}, nil
	case geos.MultiPolygonTypeID:
		return Polygonal{Kind: KindMultiPolygon, Geom: g}, nil
	}
	return Polygonal{}, &UnsupportedGeometryError{Type: g.Type(), Op: op}
}

// 文档注释：异构集合拍平为面状几何
// 背景：相交运算在切点处可能产出 GeometryCollection（含 Point / LineString），
// 此时仅保留面状成员并重新合并。
// 返回：第二个返回值为 false 表示集合中没有任何面状成员。
func Flatten(gctx *geos.Context, g *geos.Geom) (*geos.Geom, bool) {
	switch g.TypeID() {
	case geos.PolygonTypeID, geos.MultiPolygonTypeID:
		return g, !g.IsEmpty()
	case geos.GeometryCollectionTypeID:
	default:
		return nil, false
	}
	var parts []*geos.Geom
	for i := 0; i < g.NumGeometries(); i++ {
		m := g.Geometry(i)
		if m.IsEmpty() {
			continue
		}
		switch m.TypeID() {
		case geos.PolygonTypeID, geos.MultiPolygonTypeID:
			parts = append(parts, m.Clone())
		case geos.GeometryCollectionTypeID:
			if inner, ok := Flatten(gctx, m); ok {
				parts = append(parts, inner.Clone())
			}
		}
	}
	if len(parts) == 0 {
		return nil, false
	}
	return gctx.NewCollection(geos.GeometryCollectionTypeID, parts).UnaryUnion(), true
}

// UnionAll：合并多个几何；输入不被修改
func UnionAll(gctx *geos.Context, geoms []*geos.Geom) (*geos.Geom, error) {
	if len(geoms) == 0 {
		return nil, ErrEmpty
	}
	if len(geoms) == 1 {
		return geoms[0].UnaryUnion(), nil
	}
	clones := make([]*geos.Geom, 0, len(geoms))
	for _, g := range geoms {
		clones = append(clones, g.Clone())
	}
	return gctx.NewCollection(geos.GeometryCollectionTypeID, clones).UnaryUnion(), nil
}

// Polygons：逐个返回组成部分（Polygon 返回自身）
func (p Polygonal) Polygons() []*geos.Geom {
	if p.Kind == KindPolygon {
		return []*geos.Geom{p.Geom}
	}
	out := make([]*geos.Geom, 0, p.Geom.NumGeometries())
	for i := 0; i < p.Geom.NumGeometries(); i++ {
		out = append(out, p.Geom.Geometry(i))
	}
	return out
}

// Rings：单个 Polygon 的全部环坐标，外环在前，其后为洞
func Rings(poly *geos.Geom) [][][]float64 {
	rings := make([][][]float64, 0, 1+poly.NumInteriorRings())
	rings = append(rings, poly.ExteriorRing().CoordSeq().ToCoords())
	for i := 0; i < poly.NumInteriorRings(); i++ {
		rings = append(rings, poly.InteriorRing(i).CoordSeq().ToCoords())
	}
	return rings
}

// 文档注释：按顶点遍历面状几何（单面与多面统一处理）
// 约束：fn 返回 false 时提前结束；返回值表示是否遍历完毕。
func (p Polygonal) EachVertex(fn func(x, y float64) bool) bool {
	for _, poly := range p.Polygons() {
		for _, ring := range Rings(poly) {
			for _, c := range ring {
				if !fn(c[0], c[1]) {
					return false
				}
			}
		}
	}
	return true
}
