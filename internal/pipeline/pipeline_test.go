package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"postcode-polygons/internal/config"
	"postcode-polygons/internal/postcode"
	"postcode-polygons/internal/progress"
	"postcode-polygons/internal/regions"
	"postcode-polygons/internal/store"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func cellWKB(x0, y0, x1, y1 float64) []byte {
	return geos.NewContext().NewPolygon([][][]float64{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}).ToWKB()
}

func regionSet(t *testing.T) *regions.Set {
	t.Helper()
	var rs []regions.Region
	for code, g := range map[string]orb.Polygon{
		"NW": square(400000, 300000, 401000, 301000),
		"NE": square(401000, 300000, 402000, 301000),
		"SE": square(399000, 299000, 400000, 300100),
	} {
		r, err := regions.NewRegion(code, g)
		require.NoError(t, err)
		rs = append(rs, r)
	}
	set, err := regions.NewSet(rs)
	require.NoError(t, err)
	return set
}

func baseCells() []store.Cell {
	vertical := cellWKB(399900, 299900, 399990, 299990)
	return []store.Cell{
		{UPRN: "1", Postcode: "AB1 1AA", RegionCode: "NW", X: 400150, Y: 300150, CellID: 1, Polygon: cellWKB(400100, 300100, 400200, 300200)},
		{UPRN: "2", Postcode: "AB1 1AB", RegionCode: "NW", X: 400250, Y: 300150, CellID: 2, Polygon: cellWKB(400200, 300100, 400300, 300200)},
		{UPRN: "3", Postcode: "AB1 2CD", RegionCode: "NE", X: 401050, Y: 300150, CellID: 3, Polygon: cellWKB(400900, 300100, 401100, 300200)},
		{UPRN: "100", Postcode: "CD2 3EF", RegionCode: "SE", X: 399950, Y: 299950, CellID: 7, Polygon: vertical},
		{UPRN: "101", Postcode: "CD2 3EG", RegionCode: "SE", X: 399950, Y: 299950, CellID: 7, Polygon: vertical},
	}
}

type collection struct {
	Type     string `json:"type"`
	Features []struct {
		Geometry struct {
			Type string `json:"type"`
		} `json:"geometry"`
		Properties map[string]string `json:"properties"`
	} `json:"features"`
}

func readCollection(t *testing.T, path string) collection {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var c collection
	require.NoError(t, json.Unmarshal(b, &c))
	require.Equal(t, "FeatureCollection", c.Type)
	return c
}

func TestRunWritesEveryLevel(t *testing.T) {
	out := t.TempDir()
	rep := progress.NewLog()
	r := NewRunner(config.Options{OutputDir: out, Workers: 2}, regionSet(t), store.NewMemory(baseCells()).Opener(), rep)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	for _, phase := range []string{"units", "areas", "districts", "sectors", PhaseVerticalStreets} {
		require.Zero(t, report[phase].Failed, phase)
	}
	require.Equal(t, 2, report["units"].Completed)
	require.Equal(t, 3, report["sectors"].Completed)
	done, _ := rep.Snapshot("sectors")
	require.Equal(t, 3, done)

	units := readCollection(t, filepath.Join(out, "units", "AB1.geojson"))
	require.Len(t, units.Features, 3)
	require.Equal(t, "AB1 1AA", units.Features[0].Properties["postcodes"])
	require.Equal(t, "AB1 1AB", units.Features[1].Properties["postcodes"])
	require.Equal(t, "AB1 2CD", units.Features[2].Properties["postcodes"])

	sector := readCollection(t, filepath.Join(out, "sectors", "AB1", "AB1 1.geojson"))
	require.Len(t, sector.Features, 1)
	require.Equal(t, map[string]string{"sector": "AB1 1", "mapit_code": "AB11"}, sector.Features[0].Properties)

	district := readCollection(t, filepath.Join(out, "districts", "AB1.geojson"))
	require.Len(t, district.Features, 1)
	require.Equal(t, "MultiPolygon", district.Features[0].Geometry.Type)

	area := readCollection(t, filepath.Join(out, "areas", "CD.geojson"))
	require.Equal(t, "CD", area.Features[0].Properties["area"])

	vs := readCollection(t, filepath.Join(out, "vertical-streets", "399950,299950-CD2 3EF,CD2 3EG.geojson"))
	require.Len(t, vs.Features, 1)
	require.Equal(t, "CD2 3EF, CD2 3EG", vs.Features[0].Properties["postcodes"])
}

func TestRunSkipsAmbiguousVerticalStreet(t *testing.T) {
	out := t.TempDir()
	cells := append(baseCells(), store.Cell{
		UPRN: "102", Postcode: "CD2 3EH", RegionCode: "SW", X: 399950, Y: 299950, CellID: 7, Polygon: cellWKB(399900, 299900, 399990, 299990),
	})
	opts := config.Options{OutputDir: out, Workers: 1, SkipUnits: true, SkipHigherLevels: true}
	r := NewRunner(opts, regionSet(t), store.NewMemory(cells).Opener(), nil)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report[PhaseVerticalStreets].Completed)
	require.Zero(t, report[PhaseVerticalStreets].Failed)

	_, err = os.Stat(filepath.Join(out, "vertical-streets"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(out, "units"))
	require.True(t, os.IsNotExist(err))
}

func TestRunAreaRestriction(t *testing.T) {
	out := t.TempDir()
	opts := config.Options{OutputDir: out, Workers: 1, Area: "CD", SkipVerticalStreets: true}
	r := NewRunner(opts, regionSet(t), store.NewMemory(baseCells()).Opener(), nil)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report["units"].Total)
	require.FileExists(t, filepath.Join(out, "units", "CD2.geojson"))
	require.NoFileExists(t, filepath.Join(out, "units", "AB1.geojson"))
	require.FileExists(t, filepath.Join(out, "sectors", "CD2", "CD2 3.geojson"))
}

func TestRunUnknownAreaFailsBeforeDispatch(t *testing.T) {
	out := t.TempDir()
	opts := config.Options{OutputDir: out, Workers: 1, Area: "ZZ"}
	r := NewRunner(opts, regionSet(t), store.NewMemory(baseCells()).Opener(), nil)
	_, err := r.Run(context.Background())
	require.True(t, errors.Is(err, config.ErrConfig))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunOpenFailureIsPerTask(t *testing.T) {
	out := t.TempDir()
	mem := store.NewMemory(baseCells())
	calls := 0
	open := func(ctx context.Context) (store.CellSource, error) {
		calls++
		if calls == 1 {
			return mem, nil
		}
		return nil, errors.New("connection refused")
	}
	opts := config.Options{OutputDir: out, Workers: 1, SkipHigherLevels: true, SkipVerticalStreets: true}
	report, err := NewRunner(opts, regionSet(t), open, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report["units"].Failed)
}

func TestBuildInland(t *testing.T) {
	set := regionSet(t)
	in, sum, err := BuildInland(context.Background(), config.InlandOptions{Workers: 2}, set, store.NewMemory(baseCells()).Opener(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Completed)
	require.Zero(t, sum.Failed)

	require.True(t, in.Contains("NW", "AB1 1"))
	require.False(t, in.Contains("NE", "AB1 2"))
	require.True(t, in.Contains("SE", "CD2 3"))

	// 生成的表用于快速判断时，与完整扫描结论一致
	set.Inland = in
	out := t.TempDir()
	opts := config.Options{OutputDir: out, Workers: 1, SkipUnits: true, SkipVerticalStreets: true}
	_, err = NewRunner(opts, set, store.NewMemory(baseCells()).Opener(), nil).Run(context.Background())
	require.NoError(t, err)
	district := readCollection(t, filepath.Join(out, "districts", "AB1.geojson"))
	require.Equal(t, "MultiPolygon", district.Features[0].Geometry.Type)
}

func TestSectorSubpath(t *testing.T) {
	require.Equal(t, filepath.Join("sectors", "AB1", "AB1 1.geojson"), postcode.Sector.Subpath("AB1 1"))
}
