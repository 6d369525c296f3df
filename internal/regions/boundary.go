package regions

import (
	"os"
	"path/filepath"
	"strings"

	"postcode-polygons/internal/logger"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// NameField：边界要素中区域全名所在的属性
const NameField = "NAME"

// 文档注释：从边界文件加载区域快照
// 背景：区域边界来自单图层要素集，支持 ESRI Shapefile（.shp）与 GeoJSON（.geojson/.json），坐标为 EPSG:27700。
// 约束：名称不在映射表 -> UnknownRegionNameError；代码重复 -> DuplicateRegionError；两者都属于配置错误。
func LoadFile(path string) (*Set, error) {
	var (
		rs  []Region
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		rs, err = readShapefile(path)
	case ".geojson", ".json":
		rs, err = readGeoJSON(path)
	default:
		return nil, errors.Errorf("unsupported regions file %q (expected .shp, .geojson or .json)", path)
	}
	if err != nil {
		return nil, err
	}
	s, err := NewSet(rs)
	if err != nil {
		return nil, err
	}
	logger.L().Info("regions_loaded", "path", path, "count", len(rs))
	return s, nil
}

func readGeoJSON(path string) ([]Region, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read regions file")
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, errors.Wrap(err, "parse regions geojson")
	}
	rs := make([]Region, 0, len(fc.Features))
	for _, f := range fc.Features {
		name := f.Properties.MustString(NameField, "")
		r, err := newRegion(name, f.Geometry)
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	return rs, nil
}

func readShapefile(path string) ([]Region, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, errors.Wrap(err, "open regions shapefile")
	}
	defer d.Close()
	var rs []Region
	for {
		g, fields, more := d.DecodeRowFields(NameField)
		if !more {
			break
		}
		og, err := fromCtessum(g)
		if err != nil {
			return nil, err
		}
		r, err := newRegion(strings.TrimSpace(fields[NameField]), og)
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	if err := d.Error(); err != nil {
		return nil, errors.Wrap(err, "decode regions shapefile")
	}
	return rs, nil
}

func newRegion(name string, g orb.Geometry) (Region, error) {
	code, ok := CodeForName(name)
	if !ok {
		return Region{}, &UnknownRegionNameError{Name: name}
	}
	return NewRegion(code, g)
}

// NewRegion：由区域代码与平面坐标几何构造区域
func NewRegion(code string, g orb.Geometry) (Region, error) {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return Region{}, errors.Errorf("region %s has non-polygonal geometry %T", code, g)
	}
	b, err := wkb.Marshal(g)
	if err != nil {
		return Region{}, errors.Wrapf(err, "encode region %s", code)
	}
	return Region{Code: code, Name: CodeToName[code], WKB: b, Bound: g.Bound()}, nil
}

// fromCtessum：shapefile 解码结果转为 orb 几何（仅面状）
func fromCtessum(g geom.Geom) (orb.Geometry, error) {
	switch t := g.(type) {
	case geom.Polygon:
		return polygonFromCtessum(t), nil
	case geom.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, len(t))
		for _, p := range t {
			mp = append(mp, polygonFromCtessum(p))
		}
		return mp, nil
	}
	return nil, errors.Errorf("unsupported shapefile geometry %T", g)
}

func polygonFromCtessum(p geom.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for _, ring := range p {
		r := make(orb.Ring, 0, len(ring))
		for _, pt := range ring {
			r = append(r, orb.Point{pt.X, pt.Y})
		}
		out = append(out, r)
	}
	return out
}
