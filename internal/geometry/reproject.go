package geometry

import (
	"github.com/ctessum/geom/proj"
	"github.com/pkg/errors"
	"github.com/twpayne/go-geos"
)

// BritishNationalGrid：EPSG:27700（OSGB36 横轴墨卡托），单元格与海岸线所在的平面坐标系
const BritishNationalGrid = "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 " +
	"+ellps=airy +towgs84=446.448,-125.157,542.06,0.15,0.247,0.842,-20.489 +units=m +no_defs"

// WGS84：EPSG:4326，输出文件使用的地理坐标系
const WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

// Reprojector：平面坐标到地理坐标的转换器
type Reprojector struct {
	trans proj.Transformer
}

// NewReprojector：构造 from -> to 的转换器（proj4 定义串）
func NewReprojector(from, to string) (*Reprojector, error) {
	src, err := proj.Parse(from)
	if err != nil {
		return nil, errors.Wrap(err, "parse source projection")
	}
	dst, err := proj.Parse(to)
	if err != nil {
		return nil, errors.Wrap(err, "parse target projection")
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, errors.Wrap(err, "build transform")
	}
	return &Reprojector{trans: t}, nil
}

// NewGridToWGS84：EPSG:27700 -> EPSG:4326
func NewGridToWGS84() (*Reprojector, error) {
	return NewReprojector(BritishNationalGrid, WGS84)
}

// Point：转换单个坐标
func (r *Reprojector) Point(x, y float64) (float64, float64, error) {
	return r.trans(x, y)
}

// 文档注释：逐顶点转换面状几何并在同一 geos.Context 中重建
// 约束：结果可能因投影误差而无效，有效性由调用方检查。
func (r *Reprojector) Polygonal(gctx *geos.Context, p Polygonal) (Polygonal, error) {
	polys := p.Polygons()
	out := make([]*geos.Geom, 0, len(polys))
	for _, poly := range polys {
		rings := Rings(poly)
		for _, ring := range rings {
			for _, c := range ring {
				x, y, err := r.trans(c[0], c[1])
				if err != nil {
					return Polygonal{}, errors.Wrapf(err, "transform (%f, %f)", c[0], c[1])
				}
				c[0], c[1] = x, y
			}
		}
		out = append(out, gctx.NewPolygon(rings))
	}
	if p.Kind == KindPolygon {
		return Polygonal{Kind: KindPolygon, Geom: out[0]}, nil
	}
	return Polygonal{Kind: KindMultiPolygon, Geom: gctx.NewCollection(geos.MultiPolygonTypeID, out)}, nil
}
