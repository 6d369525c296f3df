package aggregate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"postcode-polygons/internal/postcode"
	"postcode-polygons/internal/store"

	"github.com/pkg/errors"
	"github.com/twpayne/go-geos"
)

// VerticalStreetsDir：垂直街道输出子目录
const VerticalStreetsDir = "vertical-streets"

// maxFilenameCodes：文件名中最多列出的 unit 编码数（完整列表写入属性）
const maxFilenameCodes = 5

// 文档注释：合成一个垂直街道要素
// 背景：垂直街道来自同一个单元格，不做内陆快速判断，直接按唯一区域裁剪。
// 异常：区域多于一个 -> *AmbiguousRegionError，调用方跳过该组并记录诊断。
func (a *Aggregator) BuildVerticalStreet(ctx context.Context, vs store.VerticalStreet) (Feature, error) {
	if len(vs.Regions) != 1 {
		return Feature{}, &AmbiguousRegionError{X: vs.X, Y: vs.Y, Regions: vs.Regions}
	}
	raw, err := a.src.FetchCellPolygon(ctx, vs.CellID)
	if err != nil {
		return Feature{}, errors.Wrapf(err, "fetch cell %d", vs.CellID)
	}
	geom, err := guard(func() (*geos.Geom, error) {
		cells, err := a.engine.ParseWKB([][]byte{raw})
		if err != nil {
			return nil, err
		}
		return a.engine.Synthesize(cells, vs.Regions, "")
	})
	if err != nil {
		return Feature{}, err
	}
	codes := make([]string, 0, len(vs.Postcodes))
	for _, p := range vs.Postcodes {
		codes = append(codes, postcode.Normalize(p))
	}
	return Feature{
		Properties: map[string]string{
			"postcodes":    strings.Join(vs.Postcodes, ", "),
			"uprns":        strings.Join(vs.UPRNs, ", "),
			"region_codes": strings.Join(vs.Regions, ", "),
			MapitCodeKey:   strings.Join(codes, ","),
		},
		Geom: geom,
	}, nil
}

// VerticalStreetSubpath：按取整坐标与前五个编码命名的输出相对路径
func VerticalStreetSubpath(vs store.VerticalStreet) string {
	codes := vs.Postcodes
	if len(codes) > maxFilenameCodes {
		codes = codes[:maxFilenameCodes]
	}
	name := fmt.Sprintf("%d,%d-%s.geojson", int64(vs.X), int64(vs.Y), strings.Join(codes, ","))
	return filepath.Join(VerticalStreetsDir, name)
}
