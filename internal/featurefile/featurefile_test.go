package featurefile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
)

type rawGeom string

func (g rawGeom) ToGeoJSON(int) string { return string(g) }

func TestEmptyCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units", "AB1.geojson")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"type": "FeatureCollection", "features": []}`, string(got))
}

func TestTwoFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.geojson")
	w, err := Create(path)
	require.NoError(t, err)
	pt := rawGeom(`{"type":"Point","coordinates":[0,0]}`)
	require.NoError(t, w.Add(map[string]string{"postcodes": "AB1 1AA", "mapit_code": "AB11AA"}, pt))
	require.NoError(t, w.Add(map[string]string{"postcodes": "AB1 1AB", "mapit_code": "AB11AB"}, pt))
	require.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	want := `{"type": "FeatureCollection", "features": [` +
		`{"type": "Feature", "geometry": {"type":"Point","coordinates":[0,0]}, "properties": {"mapit_code": "AB11AA", "postcodes": "AB1 1AA"}},` +
		`{"type": "Feature", "geometry": {"type":"Point","coordinates":[0,0]}, "properties": {"mapit_code": "AB11AB", "postcodes": "AB1 1AB"}}` +
		`]}`
	require.Equal(t, want, string(got))
}

func TestOverwritesAndEmbedsGeosGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "areas", "AB.geojson")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("stale content that is longer than the output"), 0o644))

	g, err := geos.NewContext().NewGeomFromWKT("POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))")
	require.NoError(t, err)
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Add(map[string]string{"area": "AB"}, g))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]string `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)
	require.Equal(t, "Polygon", doc.Features[0].Geometry.Type)
	require.Equal(t, "AB", doc.Features[0].Properties["area"])
}
