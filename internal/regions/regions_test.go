package regions

import (
	"os"
	"path/filepath"
	"testing"

	"postcode-polygons/internal/config"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

const twoRegions = `{"type": "FeatureCollection", "features": [
 {"type": "Feature", "properties": {"NAME": "North West Euro Region"},
  "geometry": {"type": "Polygon", "coordinates": [[[0,0],[100,0],[100,100],[0,100],[0,0]]]}},
 {"type": "Feature", "properties": {"NAME": "North East Euro Region"},
  "geometry": {"type": "Polygon", "coordinates": [[[100,0],[200,0],[200,100],[100,100],[100,0]]]}}
]}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadGeoJSON(t *testing.T) {
	s, err := LoadFile(writeFile(t, "regions.geojson", twoRegions))
	require.NoError(t, err)
	require.Equal(t, []string{"NE", "NW"}, s.Codes())

	nw, err := s.Region("NW")
	require.NoError(t, err)
	require.Equal(t, "North West Euro Region", nw.Name)
	require.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}, nw.Bound)
}

func TestLoadDuplicateRegionFails(t *testing.T) {
	body := `{"type": "FeatureCollection", "features": [
 {"type": "Feature", "properties": {"NAME": "North West Euro Region"},
  "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}},
 {"type": "Feature", "properties": {"NAME": "North West Euro Region"},
  "geometry": {"type": "Polygon", "coordinates": [[[5,5],[6,5],[6,6],[5,5]]]}}
]}`
	_, err := LoadFile(writeFile(t, "dup.geojson", body))
	var dup *DuplicateRegionError
	require.True(t, errors.As(err, &dup))
	require.Equal(t, "NW", dup.Code)
	require.True(t, errors.Is(err, config.ErrConfig))
}

func TestNewSetKeepsFirstOnDuplicate(t *testing.T) {
	a, err := NewRegion("NW", square(0, 0, 1, 1))
	require.NoError(t, err)
	b, err := NewRegion("NW", square(5, 5, 6, 6))
	require.NoError(t, err)
	s := &Set{regions: map[string]Region{}}
	require.NoError(t, s.add(a))
	require.Error(t, s.add(b))
	got, err := s.Region("NW")
	require.NoError(t, err)
	require.Equal(t, a.Bound, got.Bound)
}

func TestLoadUnknownRegionName(t *testing.T) {
	body := `{"type": "FeatureCollection", "features": [
 {"type": "Feature", "properties": {"NAME": "Atlantis"},
  "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}}]}`
	_, err := LoadFile(writeFile(t, "unknown.geojson", body))
	var unknown *UnknownRegionNameError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, "Atlantis", unknown.Name)
	require.True(t, errors.Is(err, config.ErrConfig))
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	_, err := LoadFile(writeFile(t, "regions.kml", ""))
	require.Error(t, err)
}

func TestCacheGetAndUnion(t *testing.T) {
	s, err := LoadFile(writeFile(t, "regions.geojson", twoRegions))
	require.NoError(t, err)
	c := NewCache(s, geos.NewContext())

	nw, err := c.Get("NW")
	require.NoError(t, err)
	require.InDelta(t, 10000.0, nw.Geom.Area(), 1e-6)
	require.True(t, nw.Covers(50, 50))
	require.False(t, nw.Covers(150, 50))

	_, err = c.Get("SC")
	var missing *MissingRegionError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "SC", missing.Code)

	both, err := c.Union([]string{"NW", "NE"})
	require.NoError(t, err)
	require.Equal(t, "NE,NW", both.Key)
	require.InDelta(t, 20000.0, both.Geom.Area(), 1e-6)
	require.True(t, both.ContainsXY(150, 50))
	require.True(t, both.ContainsXY(50, 50))
	require.False(t, both.ContainsXY(250, 50))
	require.False(t, nw.ContainsXY(150, 50))

	again, err := c.Union([]string{"NE", "NW", "NE"})
	require.NoError(t, err)
	require.Same(t, both, again)
}

func TestKey(t *testing.T) {
	require.Equal(t, "NE,NW,SE", Key([]string{"SE", "NW", "NE", "NW"}))
	require.Equal(t, "NW", Key([]string{"NW"}))
}

func TestInland(t *testing.T) {
	p := writeFile(t, "inland.json", `{"NW": ["AB1 1", "AB1 2"], "NE": []}`)
	in, err := LoadInland(p)
	require.NoError(t, err)
	require.True(t, in.Contains("NW", "AB1 1"))
	require.False(t, in.Contains("NE", "AB1 1"))
	require.False(t, in.Contains("SC", "AB1 1"))

	b, err := in.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"NW": ["AB1 1", "AB1 2"], "NE": []}`, string(b))
}

func TestInlandSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "inland.json")
	in := NewInland(map[string][]string{"SC": {"AB1 2", "AB1 1"}})
	require.NoError(t, in.Save(path))

	back, err := LoadInland(path)
	require.NoError(t, err)
	require.True(t, back.Contains("SC", "AB1 1"))
	require.True(t, back.Contains("SC", "AB1 2"))
}
