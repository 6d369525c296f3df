// 包 config：批处理运行参数（命令行 + 环境变量），在任何 worker 启动前完成校验
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// ErrConfig：配置类错误的哨兵值；命中即整次运行失败，不进入调度
var ErrConfig = errors.New("configuration error")

// Options：一次运行的全部参数
type Options struct {
	OutputDir           string
	RegionsFile         string
	InlandSectorsFile   string
	Area                string
	SkipUnits           bool
	SkipHigherLevels    bool
	SkipVerticalStreets bool
	Workers             int
	EnsureIndexes       bool
}

// LoadEnv：加载 .env 与 data/env/.env；文件缺失时静默忽略
func LoadEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// 文档注释：校验并规范化参数
// 背景：输出目录与区域边界文件是必填项，缺失属于配置错误，必须在建池之前失败。
// 约束：Area 统一转大写；Workers 未指定时取 WORKERS 环境变量，再回退到 DefaultWorkers。
func (o *Options) Validate() error {
	if strings.TrimSpace(o.OutputDir) == "" {
		return errors.Wrap(ErrConfig, "you must specify an output directory with -o or --output-directory")
	}
	if strings.TrimSpace(o.RegionsFile) == "" {
		return errors.Wrap(ErrConfig, "you must supply a regions shapefile with -r or --regions-shapefile")
	}
	if _, err := os.Stat(o.RegionsFile); err != nil {
		return errors.Wrapf(ErrConfig, "regions file %q: %v", o.RegionsFile, err)
	}
	if o.InlandSectorsFile != "" {
		if _, err := os.Stat(o.InlandSectorsFile); err != nil {
			return errors.Wrapf(ErrConfig, "inland sectors file %q: %v", o.InlandSectorsFile, err)
		}
	}
	o.Area = strings.ToUpper(strings.TrimSpace(o.Area))
	if o.Workers <= 0 {
		o.Workers = WorkersFromEnv()
	}
	return nil
}

// InlandOptions：内陆 sector 表生成工具的参数
type InlandOptions struct {
	OutputFile  string
	RegionsFile string
	Area        string
	Workers     int
}

// Validate：输出文件与区域边界文件必填
func (o *InlandOptions) Validate() error {
	if strings.TrimSpace(o.OutputFile) == "" {
		return errors.Wrap(ErrConfig, "you must specify an output file with -o or --output-file")
	}
	if strings.TrimSpace(o.RegionsFile) == "" {
		return errors.Wrap(ErrConfig, "you must supply a regions shapefile with -r or --regions-shapefile")
	}
	if _, err := os.Stat(o.RegionsFile); err != nil {
		return errors.Wrapf(ErrConfig, "regions file %q: %v", o.RegionsFile, err)
	}
	o.Area = strings.ToUpper(strings.TrimSpace(o.Area))
	if o.Workers <= 0 {
		o.Workers = WorkersFromEnv()
	}
	return nil
}

// WorkersFromEnv：WORKERS 环境变量优先，非法或缺失时使用 DefaultWorkers
func WorkersFromEnv() int {
	if s := os.Getenv("WORKERS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return DefaultWorkers(runtime.NumCPU())
}

// DefaultWorkers：可用核数减去两个保留核，至少为 1
func DefaultWorkers(cpus int) int {
	if n := cpus - 2; n > 1 {
		return n
	}
	return 1
}
