// 包 featurefile：流式写出 GeoJSON FeatureCollection，逐个要素落盘而不在内存中拼接整份文档
package featurefile

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	preamble  = `{"type": "FeatureCollection", "features": [`
	trailer   = `]}`
	separator = ","
)

// GeoJSONer：能输出自身 GeoJSON 几何文本的值（*geos.Geom 满足该接口）
type GeoJSONer interface {
	ToGeoJSON(indent int) string
}

// Writer：单个输出文件；非并发安全，一个 worker 一次只写一个文件
type Writer struct {
	path string
	f    *os.File
	w    *bufio.Writer
	n    int
	err  error
}

// 文档注释：创建（或覆盖）输出文件并写入前导
// 约束：按需创建父目录。
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	w := &Writer{path: path, f: f, w: bufio.NewWriter(f)}
	w.write(preamble)
	return w, nil
}

// Path：输出文件路径
func (w *Writer) Path() string { return w.path }

// Count：已写入的要素数
func (w *Writer) Count() int { return w.n }

// 文档注释：追加一个要素
// 约束：properties 按键排序序列化；要素之间以逗号分隔，无尾随逗号。
func (w *Writer) Add(properties map[string]string, geom GeoJSONer) error {
	if w.err != nil {
		return w.err
	}
	props, err := encodeProperties(properties)
	if err != nil {
		return err
	}
	if w.n > 0 {
		w.write(separator)
	}
	w.write(`{"type": "Feature", "geometry": `)
	w.write(geom.ToGeoJSON(-1))
	w.write(`, "properties": `)
	w.write(props)
	w.write(`}`)
	if w.err == nil {
		w.n++
	}
	return w.err
}

// Close：写入结尾并关闭文件；写入错误与关闭错误合并返回
func (w *Writer) Close() error {
	w.write(trailer)
	if w.err == nil {
		w.err = errors.Wrapf(w.w.Flush(), "flush %s", w.path)
	}
	return multierr.Append(w.err, errors.Wrapf(w.f.Close(), "close %s", w.path))
}

func (w *Writer) write(s string) {
	if w.err != nil {
		return
	}
	if _, err := w.w.WriteString(s); err != nil {
		w.err = errors.Wrapf(err, "write %s", w.path)
	}
}

// encodeProperties：键升序，分隔符为 ", " 与 ": "
func encodeProperties(properties map[string]string) (string, error) {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := make([]byte, 0, 64)
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", errors.Wrap(err, "encode property key")
		}
		vb, err := json.Marshal(properties[k])
		if err != nil {
			return "", errors.Wrapf(err, "encode property %q", k)
		}
		buf = append(buf, kb...)
		buf = append(buf, ": "...)
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return string(buf), nil
}
