// 包 store：单元格数据源（递送点 + Voronoi 单元格）的访问接口与 PostgreSQL / 内存实现
package store

import (
	"context"

	"postcode-polygons/internal/postcode"
)

// RegionCells：某个区域内一组单元格的多边形（WKB，EPSG:27700）
// 约束：PostgreSQL 实现在服务端预先合并，Polygons 通常只有一个元素
type RegionCells struct {
	RegionCode string
	Polygons   [][]byte
}

// VerticalStreet：共享同一坐标的多个邮编（一组地址映射到同一个地理位置）
type VerticalStreet struct {
	X, Y      float64
	Postcodes []string
	Regions   []string
	UPRNs     []string
	CellID    int64
}

// CellSource：合成流程消费的数据源；每个 worker 持有独立实例，不跨 worker 共享
type CellSource interface {
	// ListOutcodes：数据集中全部 outcode
	ListOutcodes(ctx context.Context) ([]string, error)
	// ListPrefixes：某层级的全部前缀
	ListPrefixes(ctx context.Context, level postcode.Level) ([]string, error)
	// FetchUnits：某层级前缀下的全部 unit 编码（升序）
	FetchUnits(ctx context.Context, level postcode.Level, prefix string) ([]string, error)
	// FetchRegionCodes：某 unit 涉及的区域代码（升序）。
	// 合成流程不调用它：unit / 层级 / 垂直街道均由 FetchCells 或 FetchVerticalStreets 直接按区域分组，
	// 这里保留给排查数据时按 unit 查看区域归属
	FetchRegionCodes(ctx context.Context, unit string) ([]string, error)
	// FetchCells：给定 unit 集合的单元格按区域分组（区域代码升序）
	FetchCells(ctx context.Context, units []string) ([]RegionCells, error)
	// FetchVerticalStreets：共享坐标且邮编多于一个的分组；area 非空时按前缀限制
	FetchVerticalStreets(ctx context.Context, area string) ([]VerticalStreet, error)
	// FetchCellPolygon：按单元格 id 取多边形
	FetchCellPolygon(ctx context.Context, id int64) ([]byte, error)
	Close() error
}

// Opener：为一个 worker 建立独立的数据源连接
type Opener func(ctx context.Context) (CellSource, error)
