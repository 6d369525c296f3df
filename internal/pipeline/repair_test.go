package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"postcode-polygons/internal/aggregate"
	"postcode-polygons/internal/config"
	"postcode-polygons/internal/store"
	"postcode-polygons/internal/synth"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
)

// countedRepair：第 call 次修复（从 1 起）执行 fail，其余原样返回
type countedRepair struct {
	calls atomic.Int64
	call  int64
	fail  func() *geos.Geom
}

func (c *countedRepair) Repair(g *geos.Geom) *geos.Geom {
	if n := c.calls.Add(1); c.call == 0 || n == c.call {
		return c.fail()
	}
	return g
}

func alwaysRepair(r *countedRepair) []synth.Option {
	return []synth.Option{
		synth.WithValidity(func(*geos.Geom) bool { return false }),
		synth.WithRepairer(r),
	}
}

func TestRunUnitPanicKeepsSiblings(t *testing.T) {
	out := t.TempDir()
	repair := &countedRepair{call: 2, fail: func() *geos.Geom {
		panic(errors.New("TopologyException: side location conflict"))
	}}
	opts := config.Options{OutputDir: out, Workers: 1, Area: "AB", SkipHigherLevels: true, SkipVerticalStreets: true}
	r := NewRunner(opts, regionSet(t), store.NewMemory(baseCells()).Opener(), nil, alwaysRepair(repair)...)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report["units"].Completed)
	require.Zero(t, report["units"].Failed)

	units := readCollection(t, filepath.Join(out, "units", "AB1.geojson"))
	require.Len(t, units.Features, 2)
	require.Equal(t, "AB1 1AA", units.Features[0].Properties["postcodes"])
	require.Equal(t, "AB1 2CD", units.Features[1].Properties["postcodes"])
}

func TestRunUnrepairableLevelWritesEmptyCollection(t *testing.T) {
	out := t.TempDir()
	repair := &countedRepair{fail: func() *geos.Geom { return nil }}
	opts := config.Options{OutputDir: out, Workers: 1, Area: "CD", SkipUnits: true, SkipVerticalStreets: true}
	r := NewRunner(opts, regionSet(t), store.NewMemory(baseCells()).Opener(), nil, alwaysRepair(repair)...)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	for _, phase := range []string{"areas", "districts", "sectors"} {
		require.Equal(t, 1, report[phase].Completed, phase)
		require.Zero(t, report[phase].Failed, phase)
	}
	for _, p := range []string{
		filepath.Join(out, "areas", "CD.geojson"),
		filepath.Join(out, "districts", "CD2.geojson"),
		filepath.Join(out, "sectors", "CD2", "CD2 3.geojson"),
	} {
		require.Empty(t, readCollection(t, p).Features, p)
	}
}

func TestRunSkipsUnrepairableVerticalStreet(t *testing.T) {
	out := t.TempDir()
	repair := &countedRepair{fail: func() *geos.Geom { return nil }}
	opts := config.Options{OutputDir: out, Workers: 1, SkipUnits: true, SkipHigherLevels: true}
	r := NewRunner(opts, regionSet(t), store.NewMemory(baseCells()).Opener(), nil, alwaysRepair(repair)...)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report[PhaseVerticalStreets].Completed)
	require.Zero(t, report[PhaseVerticalStreets].Failed)
	_, err = os.Stat(filepath.Join(out, "vertical-streets"))
	require.True(t, os.IsNotExist(err))
}

func TestWriteRemovesFileOnFailure(t *testing.T) {
	out := t.TempDir()
	r := NewRunner(config.Options{OutputDir: out}, regionSet(t), nil, nil)
	pt := geos.NewContext().NewPoint([]float64{-2, 52.5})
	feature := aggregate.Feature{Properties: map[string]string{"postcodes": "AB1 1AA"}, Geom: pt}

	boom := errors.New("emit failed")
	err := r.write("units/AB1.geojson", "unit", func(emit aggregate.Emit) error {
		require.NoError(t, emit(feature))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoFileExists(t, filepath.Join(out, "units", "AB1.geojson"))

	require.Panics(t, func() {
		_ = r.write("units/AB2.geojson", "unit", func(emit aggregate.Emit) error {
			require.NoError(t, emit(feature))
			panic("TopologyException")
		})
	})
	require.NoFileExists(t, filepath.Join(out, "units", "AB2.geojson"))

	require.NoError(t, r.write("units/AB3.geojson", "unit", func(emit aggregate.Emit) error {
		return emit(feature)
	}))
	require.Len(t, readCollection(t, filepath.Join(out, "units", "AB3.geojson")).Features, 1)
}
