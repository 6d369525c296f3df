// 包 regions：海岸线区域（欧洲议会选区）边界的加载、只读快照与按 geos.Context 的几何缓存
package regions

import (
	"fmt"
	"sort"
	"strings"

	"postcode-polygons/internal/config"

	"github.com/paulmach/orb"
)

// CodeToName：区域代码与边界文件 NAME 字段的固定映射
var CodeToName = map[string]string{
	"EE": "Eastern Euro Region",
	"EM": "East Midlands Euro Region",
	"LN": "London Euro Region",
	"NE": "North East Euro Region",
	"NW": "North West Euro Region",
	"SC": "Scotland Euro Region",
	"SE": "South East Euro Region",
	"SW": "South West Euro Region",
	"WA": "Wales Euro Region",
	"WM": "West Midlands Euro Region",
	"YH": "Yorkshire and the Humber Euro Region",
}

var nameToCode = func() map[string]string {
	m := make(map[string]string, len(CodeToName))
	for k, v := range CodeToName {
		m[v] = k
	}
	return m
}()

// CodeForName：按区域全名查代码
func CodeForName(name string) (string, bool) {
	c, ok := nameToCode[name]
	return c, ok
}

// DuplicateRegionError：边界文件中同一区域代码出现多次
type DuplicateRegionError struct {
	Code string
	Name string
}

func (e *DuplicateRegionError) Error() string {
	return fmt.Sprintf("there were multiple regions for %s (%s) in the regions file", e.Code, e.Name)
}

func (e *DuplicateRegionError) Unwrap() error { return config.ErrConfig }

// UnknownRegionNameError：边界要素名称不在映射表内
type UnknownRegionNameError struct {
	Name string
}

func (e *UnknownRegionNameError) Error() string {
	return fmt.Sprintf("unknown region name %q in the regions file", e.Name)
}

func (e *UnknownRegionNameError) Unwrap() error { return config.ErrConfig }

// MissingRegionError：查询了未加载的区域代码（运维/程序错误，按单元失败处理）
type MissingRegionError struct {
	Code string
}

func (e *MissingRegionError) Error() string {
	return fmt.Sprintf("there was no cached geometry for %q", e.Code)
}

// Region：一个区域的海岸线（平面坐标，WKB 编码）与包围盒
type Region struct {
	Code  string
	Name  string
	WKB   []byte
	Bound orb.Bound
}

// Set：启动时加载一次的只读区域快照，可被全部 worker 共享
type Set struct {
	regions map[string]Region
	// Inland 为 nil 表示未提供内陆 sector 表
	Inland Inland
}

// NewSet：由区域列表构造快照；代码重复时返回 DuplicateRegionError 且不覆盖先出现者
func NewSet(rs []Region) (*Set, error) {
	s := &Set{regions: make(map[string]Region, len(rs))}
	for _, r := range rs {
		if err := s.add(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) add(r Region) error {
	if _, ok := s.regions[r.Code]; ok {
		return &DuplicateRegionError{Code: r.Code, Name: r.Name}
	}
	s.regions[r.Code] = r
	return nil
}

// Region：按代码取区域
func (s *Set) Region(code string) (Region, error) {
	r, ok := s.regions[code]
	if !ok {
		return Region{}, &MissingRegionError{Code: code}
	}
	return r, nil
}

// Codes：已加载区域代码（升序）
func (s *Set) Codes() []string {
	out := make([]string, 0, len(s.regions))
	for c := range s.regions {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Bound：多个区域包围盒的并集
func (s *Set) Bound(codes []string) (orb.Bound, error) {
	var b orb.Bound
	for i, c := range codes {
		r, err := s.Region(c)
		if err != nil {
			return orb.Bound{}, err
		}
		if i == 0 {
			b = r.Bound
		} else {
			b = b.Union(r.Bound)
		}
	}
	return b, nil
}

// Key：多区域联合几何的缓存键（去重、排序、逗号连接）
func Key(codes []string) string {
	uniq := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, ok := uniq[c]; ok {
			continue
		}
		uniq[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
