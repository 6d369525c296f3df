// 包 utils：外部服务（PostgreSQL / Redis）的连接参数统一从环境变量读取
package utils

import (
	"context"
	"os"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// BuildPostgresDSNFromEnv：按 PG_* 环境变量拼接 DSN，默认库名 mapit
func BuildPostgresDSNFromEnv() string {
	host := os.Getenv("PG_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("PG_USER")
	if user == "" {
		user = "postgres"
	}
	pass := os.Getenv("PG_PASSWORD")
	db := os.Getenv("PG_DB")
	if db == "" {
		db = "mapit"
	}
	ssl := os.Getenv("PG_SSLMODE")
	if ssl == "" {
		ssl = "disable"
	}
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

// 文档注释：打开主进程使用的连接池（索引迁移等一次性操作）
// 约束：worker 不使用该连接池，各自通过 store.PostgresOpener 建立独占连接。
// PG_MAX_OPEN_CONNS 可覆盖默认上限。
func OpenPostgresFromEnv(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	maxOpen := 4
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			maxOpen = n
		}
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return db, nil
}
