package store

import (
	"context"
	"sort"
	"strings"

	"postcode-polygons/internal/postcode"

	"github.com/pkg/errors"
)

// Cell：一个递送点及其所属单元格
type Cell struct {
	UPRN       string
	Postcode   string
	RegionCode string
	X, Y       float64
	CellID     int64
	// Polygon 为单元格多边形 WKB（EPSG:27700）；CellID 相同的点共享同一单元格
	Polygon []byte
}

// Memory：进程内数据源，用于测试与小规模离线运行；只读，可被多个 worker 共享
type Memory struct {
	cells []Cell
}

// NewMemory：由单元格列表构造
func NewMemory(cells []Cell) *Memory {
	return &Memory{cells: append([]Cell(nil), cells...)}
}

// Opener：所有 worker 共享同一只读实例
func (m *Memory) Opener() Opener {
	return func(ctx context.Context) (CellSource, error) { return m, nil }
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ListOutcodes(ctx context.Context) ([]string, error) {
	return m.ListPrefixes(ctx, postcode.District)
}

func (m *Memory) ListPrefixes(ctx context.Context, level postcode.Level) ([]string, error) {
	set := map[string]struct{}{}
	for _, c := range m.cells {
		if p := level.PrefixOf(c.Postcode); p != "" {
			set[p] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (m *Memory) FetchUnits(ctx context.Context, level postcode.Level, prefix string) ([]string, error) {
	set := map[string]struct{}{}
	re := level.Matcher(prefix)
	for _, c := range m.cells {
		if re.MatchString(c.Postcode) {
			set[c.Postcode] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (m *Memory) FetchRegionCodes(ctx context.Context, unit string) ([]string, error) {
	set := map[string]struct{}{}
	for _, c := range m.cells {
		if c.Postcode == unit {
			set[c.RegionCode] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (m *Memory) FetchCells(ctx context.Context, units []string) ([]RegionCells, error) {
	wanted := make(map[string]struct{}, len(units))
	for _, u := range units {
		wanted[u] = struct{}{}
	}
	byRegion := map[string][][]byte{}
	seen := map[string]map[int64]struct{}{}
	for _, c := range m.cells {
		if _, ok := wanted[c.Postcode]; !ok {
			continue
		}
		if seen[c.RegionCode] == nil {
			seen[c.RegionCode] = map[int64]struct{}{}
		}
		if _, dup := seen[c.RegionCode][c.CellID]; dup {
			continue
		}
		seen[c.RegionCode][c.CellID] = struct{}{}
		byRegion[c.RegionCode] = append(byRegion[c.RegionCode], c.Polygon)
	}
	codes := make([]string, 0, len(byRegion))
	for code := range byRegion {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]RegionCells, 0, len(codes))
	for _, code := range codes {
		out = append(out, RegionCells{RegionCode: code, Polygons: byRegion[code]})
	}
	return out, nil
}

type pointKey struct {
	x, y float64
	cell int64
}

func (m *Memory) FetchVerticalStreets(ctx context.Context, area string) ([]VerticalStreet, error) {
	type group struct {
		postcodes, regions map[string]struct{}
		uprns              []string
	}
	groups := map[pointKey]*group{}
	var order []pointKey
	for _, c := range m.cells {
		if area != "" && !strings.HasPrefix(c.Postcode, area) {
			continue
		}
		k := pointKey{x: c.X, y: c.Y, cell: c.CellID}
		g, ok := groups[k]
		if !ok {
			g = &group{postcodes: map[string]struct{}{}, regions: map[string]struct{}{}}
			groups[k] = g
			order = append(order, k)
		}
		g.postcodes[c.Postcode] = struct{}{}
		g.regions[c.RegionCode] = struct{}{}
		g.uprns = append(g.uprns, c.UPRN)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].x != order[j].x {
			return order[i].x < order[j].x
		}
		if order[i].y != order[j].y {
			return order[i].y < order[j].y
		}
		return order[i].cell < order[j].cell
	})
	var out []VerticalStreet
	for _, k := range order {
		g := groups[k]
		if len(g.postcodes) < 2 {
			continue
		}
		sort.Strings(g.uprns)
		out = append(out, VerticalStreet{
			X: k.x, Y: k.y,
			Postcodes: sortedKeys(g.postcodes),
			Regions:   sortedKeys(g.regions),
			UPRNs:     g.uprns,
			CellID:    k.cell,
		})
	}
	return out, nil
}

func (m *Memory) FetchCellPolygon(ctx context.Context, id int64) ([]byte, error) {
	for _, c := range m.cells {
		if c.CellID == id {
			return c.Polygon, nil
		}
	}
	return nil, errors.Errorf("no cell with id %d", id)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
