// 包 migrate：为单元格查询补齐索引
package migrate

import (
	"context"

	"postcode-polygons/internal/logger"
	"postcode-polygons/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Statements：按执行顺序排列的建索引语句
// 约束：使用 IF NOT EXISTS，可重复执行；只建索引，不改动表结构
var Statements = []string{
	`CREATE INDEX IF NOT EXISTS mapit_postcodes_nsulrow_postcode_pattern ON ` + store.PointsTable + ` (postcode text_pattern_ops)`,
	`CREATE INDEX IF NOT EXISTS mapit_postcodes_nsulrow_postcode ON ` + store.PointsTable + ` (postcode)`,
	`CREATE INDEX IF NOT EXISTS mapit_postcodes_nsulrow_region_code ON ` + store.PointsTable + ` (region_code)`,
	`CREATE INDEX IF NOT EXISTS mapit_postcodes_nsulrow_voronoi_region_id ON ` + store.PointsTable + ` (voronoi_region_id)`,
	`CREATE INDEX IF NOT EXISTS mapit_postcodes_nsulrow_point_region ON ` + store.PointsTable + ` (point, voronoi_region_id)`,
}

// 背景：前缀匹配（postcode ~ '^AB1 '）与按 unit 取单元格是主要查询路径，缺索引时会全表扫描
func EnsureIndexes(ctx context.Context, db *sqlx.DB) error {
	for i, s := range Statements {
		logger.L().Debug("index_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return errors.Wrapf(err, "ensure index %d", i)
		}
	}
	logger.L().Info("indexes_ready", "count", len(Statements))
	return nil
}
