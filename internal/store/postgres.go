package store

import (
	"context"
	"database/sql"
	"fmt"

	"postcode-polygons/internal/logger"
	"postcode-polygons/internal/postcode"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	// PointsTable：每行一个递送点（uprn、postcode、point、region_code、voronoi_region_id）
	PointsTable = "mapit_postcodes_nsulrow"
	// CellsTable：Voronoi 单元格（id、polygon），EPSG:27700
	CellsTable = "mapit_postcodes_voronoiregion"
)

// Postgres：基于 PostGIS 的数据源
type Postgres struct {
	db *sqlx.DB
}

// 文档注释：打开一个 worker 独占的连接
// 背景：每个 worker 独立建连，连接不跨 worker 共享；单 worker 串行执行查询，连接池上限为 1。
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &Postgres{db: db}, nil
}

// PostgresOpener：返回按 dsn 建连的 Opener
func PostgresOpener(dsn string) Opener {
	return func(ctx context.Context) (CellSource, error) {
		p, err := Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Close：关闭数据库连接
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) ListOutcodes(ctx context.Context) ([]string, error) {
	return p.ListPrefixes(ctx, postcode.District)
}

func (p *Postgres) ListPrefixes(ctx context.Context, level postcode.Level) ([]string, error) {
	var out []string
	q := fmt.Sprintf(`SELECT DISTINCT %s AS prefix FROM %s ORDER BY prefix`, level.PrefixSQL, PointsTable)
	if err := p.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.Wrapf(err, "list %s", level.Plural)
	}
	logger.L().Debug("db_prefixes", "level", level.Plural, "count", len(out))
	return out, nil
}

func (p *Postgres) FetchUnits(ctx context.Context, level postcode.Level, prefix string) ([]string, error) {
	var out []string
	q := fmt.Sprintf(`SELECT DISTINCT postcode FROM %s WHERE postcode ~ $1 ORDER BY postcode`, PointsTable)
	if err := p.db.SelectContext(ctx, &out, q, level.MemberPattern(prefix)); err != nil {
		return nil, errors.Wrapf(err, "units for %s %q", level.Singular, prefix)
	}
	return out, nil
}

func (p *Postgres) FetchRegionCodes(ctx context.Context, unit string) ([]string, error) {
	var out []string
	q := fmt.Sprintf(`SELECT DISTINCT region_code FROM %s WHERE postcode = $1 ORDER BY region_code`, PointsTable)
	if err := p.db.SelectContext(ctx, &out, q, unit); err != nil {
		return nil, errors.Wrapf(err, "region codes for %q", unit)
	}
	return out, nil
}

// 文档注释：按区域分组并在服务端合并单元格多边形
// 约束：同一单元格被多个递送点引用时在 ST_Union 中自然去重；结果按区域代码升序。
func (p *Postgres) FetchCells(ctx context.Context, units []string) ([]RegionCells, error) {
	q := fmt.Sprintf(`SELECT n.region_code, ST_AsBinary(ST_Union(v.polygon))
        FROM %s n JOIN %s v ON v.id = n.voronoi_region_id
        WHERE n.postcode = ANY($1)
        GROUP BY n.region_code
        ORDER BY n.region_code`, PointsTable, CellsTable)
	rows, err := p.db.QueryContext(ctx, q, pq.Array(units))
	if err != nil {
		return nil, errors.Wrap(err, "fetch cells")
	}
	defer rows.Close()
	var out []RegionCells
	for rows.Next() {
		var code string
		var wkb []byte
		if err := rows.Scan(&code, &wkb); err != nil {
			return nil, errors.Wrap(err, "scan cells")
		}
		out = append(out, RegionCells{RegionCode: code, Polygons: [][]byte{wkb}})
	}
	return out, rows.Err()
}

// 文档注释：查询 vertical street 分组
// 背景：按（坐标, 单元格）分组，聚合去重后的邮编与区域代码，仅保留邮编多于一个的分组。
// 约束：area 非空时以 LIKE 'area%' 限制。
func (p *Postgres) FetchVerticalStreets(ctx context.Context, area string) ([]VerticalStreet, error) {
	where := ""
	args := []any{}
	if area != "" {
		where = "WHERE postcode LIKE $1"
		args = append(args, area+"%")
	}
	q := fmt.Sprintf(`WITH t AS (
            SELECT point,
                array_agg(DISTINCT postcode ORDER BY postcode) AS postcodes,
                array_agg(DISTINCT region_code ORDER BY region_code) AS region_codes,
                array_agg(uprn::text ORDER BY uprn) AS uprns,
                voronoi_region_id
            FROM %s %s
            GROUP BY point, voronoi_region_id)
        SELECT ST_X(point), ST_Y(point), postcodes, region_codes, uprns, voronoi_region_id
        FROM t WHERE cardinality(postcodes) > 1`, PointsTable, where)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "fetch vertical streets")
	}
	defer rows.Close()
	var out []VerticalStreet
	for rows.Next() {
		var vs VerticalStreet
		var postcodes, regionCodes, uprns pq.StringArray
		if err := rows.Scan(&vs.X, &vs.Y, &postcodes, &regionCodes, &uprns, &vs.CellID); err != nil {
			return nil, errors.Wrap(err, "scan vertical street")
		}
		vs.Postcodes, vs.Regions, vs.UPRNs = postcodes, regionCodes, uprns
		out = append(out, vs)
	}
	return out, rows.Err()
}

func (p *Postgres) FetchCellPolygon(ctx context.Context, id int64) ([]byte, error) {
	var wkb []byte
	q := fmt.Sprintf(`SELECT ST_AsBinary(polygon) FROM %s WHERE id = $1`, CellsTable)
	err := p.db.QueryRowxContext(ctx, q, id).Scan(&wkb)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("no cell with id %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetch cell %d", id)
	}
	return wkb, nil
}
