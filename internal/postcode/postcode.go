// 包 postcode：邮编层级（area ⊂ district ⊂ sector ⊂ unit）的前缀规则与输出路径
package postcode

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var (
	sectorRe     = regexp.MustCompile(`^(\S+ \S).*`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	areaRe       = regexp.MustCompile(`^([A-Z]+).*`)

	matchers sync.Map
)

// Level：一个聚合层级；前缀由 unit 编码截断得到，不单独存储
type Level struct {
	Singular string
	Plural   string
	// PrefixSQL 为列出全部前缀的 SQL 表达式（作用于 postcode 列）
	PrefixSQL string
	// memberFormat 中的 %s 替换为转义后的前缀，得到成员 unit 的匹配正则
	memberFormat string
	prefixOf     func(code string) string
}

var (
	Area = Level{
		Singular:     "area",
		Plural:       "areas",
		PrefixSQL:    `regexp_replace(postcode, '^([A-Z]+).*', '\1')`,
		memberFormat: `^%s[0-9]`,
		prefixOf:     AreaOf,
	}
	District = Level{
		Singular:     "district",
		Plural:       "districts",
		PrefixSQL:    `regexp_replace(postcode, ' .*', '')`,
		memberFormat: `^%s `,
		prefixOf:     Outcode,
	}
	Sector = Level{
		Singular:     "sector",
		Plural:       "sectors",
		PrefixSQL:    `regexp_replace(postcode, '^(.* [0-9]).*', '\1')`,
		memberFormat: `^%s`,
		prefixOf:     SectorOf,
	}
	// Unit 的前缀是 outcode：一个 outcode 下的全部 unit 写入同一个文件
	Unit = Level{
		Singular:     "unit",
		Plural:       "units",
		PrefixSQL:    `regexp_replace(postcode, ' .*', '')`,
		memberFormat: `^%s `,
		prefixOf:     Outcode,
	}
)

// HigherLevels：按处理顺序排列的三个聚合层级
var HigherLevels = []Level{Area, District, Sector}

// MemberPattern：返回匹配该前缀下全部 unit 的正则（Go regexp 与 PostgreSQL ~ 通用）
func (l Level) MemberPattern(prefix string) string {
	return strings.Replace(l.memberFormat, "%s", regexp.QuoteMeta(prefix), 1)
}

// Matcher：编译后的成员正则；按模式缓存，同一前缀只编译一次
func (l Level) Matcher(prefix string) *regexp.Regexp {
	pattern := l.MemberPattern(prefix)
	if re, ok := matchers.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re, _ := matchers.LoadOrStore(pattern, regexp.MustCompile(pattern))
	return re.(*regexp.Regexp)
}

// Matches：判断 unit 编码是否属于该前缀
func (l Level) Matches(prefix, code string) bool {
	return l.Matcher(prefix).MatchString(code)
}

// PrefixOf：unit 编码在该层级的前缀；不满足层级格式时返回空串
func (l Level) PrefixOf(code string) string {
	return l.prefixOf(code)
}

// 文档注释：该层级某前缀的输出相对路径
// 约束：sector 额外按 outcode 分子目录，unit 以 outcode 命名整文件。
func (l Level) Subpath(prefix string) string {
	switch l.Plural {
	case Sector.Plural:
		return filepath.Join(l.Plural, Outcode(prefix), prefix+".geojson")
	default:
		return filepath.Join(l.Plural, prefix+".geojson")
	}
}

// Outcode：首个空白之前的部分（"AB1 1AA" -> "AB1"）
func Outcode(code string) string {
	if i := strings.IndexByte(code, ' '); i >= 0 {
		return code[:i]
	}
	return code
}

// SectorOf：outcode + inward 首字符；无法解析时返回空串
func SectorOf(code string) string {
	m := sectorRe.FindStringSubmatch(code)
	if m == nil {
		return ""
	}
	return m[1]
}

// AreaOf：outcode 前导字母
func AreaOf(code string) string {
	m := areaRe.FindStringSubmatch(code)
	if m == nil {
		return ""
	}
	return m[1]
}

// Normalize：去除全部空白，作为 mapit_code 输出
func Normalize(code string) string {
	return whitespaceRe.ReplaceAllString(code, "")
}
