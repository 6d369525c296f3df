package regions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Inland：区域代码 -> 已知完全位于内陆的 sector 集合
type Inland map[string]map[string]struct{}

// LoadInland：读取 {"NW": ["AB1 1", ...]} 形式的 JSON 表
func LoadInland(path string) (Inland, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read inland sectors file")
	}
	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "parse inland sectors file")
	}
	return NewInland(raw), nil
}

// NewInland：由列表形式构造集合形式，便于 O(1) 查询
func NewInland(raw map[string][]string) Inland {
	in := make(Inland, len(raw))
	for code, sectors := range raw {
		set := make(map[string]struct{}, len(sectors))
		for _, s := range sectors {
			set[s] = struct{}{}
		}
		in[code] = set
	}
	return in
}

// Contains：sector 是否被登记为该区域的内陆 sector
func (in Inland) Contains(code, sector string) bool {
	set, ok := in[code]
	if !ok {
		return false
	}
	_, ok = set[sector]
	return ok
}

// MarshalJSON：输出为排序后的列表形式，与 LoadInland 的输入格式一致
func (in Inland) MarshalJSON() ([]byte, error) {
	raw := make(map[string][]string, len(in))
	for code, set := range in {
		list := make([]string, 0, len(set))
		for s := range set {
			list = append(list, s)
		}
		sort.Strings(list)
		raw[code] = list
	}
	return json.Marshal(raw)
}

// Save：按 MarshalJSON 的格式写出，父目录按需创建
func (in Inland) Save(path string) error {
	b, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "encode inland sectors")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create inland sectors directory")
	}
	return errors.Wrap(os.WriteFile(path, b, 0o644), "write inland sectors file")
}
