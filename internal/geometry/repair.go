package geometry

import (
	"github.com/twpayne/go-geos"
)

// Repairer：无效几何修复；无法修复时返回 nil
type Repairer interface {
	Repair(g *geos.Geom) *geos.Geom
}

// MakeValid：基于 GEOS MakeValid 的修复实现，结果只保留面状部分
type MakeValid struct {
	Ctx *geos.Context
}

// 文档注释：修复自相交等拓扑错误
// 背景：投影后偶发无效多边形；MakeValid 可能产出带线段的集合，拍平后若无面状成员视为无法修复。
func (m MakeValid) Repair(g *geos.Geom) *geos.Geom {
	fixed := g.MakeValid()
	if fixed == nil || fixed.IsEmpty() {
		return nil
	}
	flat, ok := Flatten(m.Ctx, fixed)
	if !ok || !flat.IsValid() {
		return nil
	}
	return flat
}
