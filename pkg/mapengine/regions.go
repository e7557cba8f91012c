package mapengine

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/golang/geo/s2"
	geojson "github.com/paulmach/go.geojson"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/sources"
	"github.com/sentinelcore/sentinel-stream/pkg/utils"
)

type regionPolygon struct {
	outer *s2.Loop
	holes []*s2.Loop
}

// Region is one named boundary from a GeoJSON feature collection.
type Region struct {
	Name     string
	Polygons [][][][]float64 // GeoJSON order: polygon, ring, [lng, lat]
	shapes   []regionPolygon
	bound    s2.Rect
}

func (r *Region) Contains(lat, lng float64) bool {
	ll := s2.LatLngFromDegrees(lat, lng)
	if !r.bound.ContainsLatLng(ll) {
		return false
	}
	p := s2.PointFromLatLng(ll)
	for _, sh := range r.shapes {
		if !sh.outer.ContainsPoint(p) {
			continue
		}
		inHole := false
		for _, h := range sh.holes {
			if h.ContainsPoint(p) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// ProjectedBounds is the map-space bounding box of the region's outer rings.
func (r *Region) ProjectedBounds(p Projector) Bounds {
	b := Bounds{Min: Point{X: 1, Y: 1}}
	first := true
	for _, poly := range r.Polygons {
		if len(poly) == 0 {
			continue
		}
		for _, c := range poly[0] {
			if len(c) < 2 {
				continue
			}
			x, y := p.Project(c[1], c[0])
			if first {
				b = Bounds{Min: Point{X: x, Y: y}, Max: Point{X: x, Y: y}}
				first = false
				continue
			}
			b.Min.X, b.Min.Y = min(b.Min.X, x), min(b.Min.Y, y)
			b.Max.X, b.Max.Y = max(b.Max.X, x), max(b.Max.Y, y)
		}
	}
	return b
}

// RegionIndex answers point-in-region queries over a set of boundaries.
type RegionIndex struct {
	regions []*Region
	byName  map[string]*Region
}

func LoadRegionIndex(r io.Reader) (*RegionIndex, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("parsing region boundaries: %w", err)
	}
	return NewRegionIndex(fc), nil
}

func NewRegionIndex(fc *geojson.FeatureCollection) *RegionIndex {
	idx := &RegionIndex{byName: make(map[string]*Region)}
	if fc == nil {
		return idx
	}
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		name := featureName(f)
		if name == "" {
			name = fmt.Sprintf("region-%d", i)
		}
		var polys [][][][]float64
		switch {
		case f.Geometry.IsPolygon():
			polys = [][][][]float64{f.Geometry.Polygon}
		case f.Geometry.IsMultiPolygon():
			polys = f.Geometry.MultiPolygon
		default:
			continue
		}
		reg := &Region{Name: name, Polygons: polys, bound: s2.EmptyRect()}
		for _, poly := range polys {
			sh, ok := buildPolygon(poly)
			if !ok {
				continue
			}
			reg.shapes = append(reg.shapes, sh)
			reg.bound = reg.bound.Union(sh.outer.RectBound())
		}
		if len(reg.shapes) == 0 {
			log.WithField("region", name).Debug("[regions] skipping feature without usable rings")
			continue
		}
		idx.regions = append(idx.regions, reg)
		idx.byName[strings.ToLower(name)] = reg
	}
	return idx
}

func featureName(f *geojson.Feature) string {
	for _, key := range []string{"name", "NAME", "admin", "ADMIN", "shapeName", "lga_name"} {
		if v, ok := f.Properties[key].(string); ok && v != "" {
			return v
		}
	}
	if s, ok := f.ID.(string); ok {
		return s
	}
	return ""
}

func buildPolygon(rings [][][]float64) (regionPolygon, bool) {
	var sh regionPolygon
	for i, ring := range rings {
		loop, ok := ringLoop(ring)
		if !ok {
			if i == 0 {
				return sh, false
			}
			continue
		}
		if i == 0 {
			sh.outer = loop
		} else {
			sh.holes = append(sh.holes, loop)
		}
	}
	return sh, sh.outer != nil
}

// ringLoop converts a closed GeoJSON ring into an s2 loop. Normalize fixes the
// orientation so the loop always encloses the smaller side.
func ringLoop(ring [][]float64) (*s2.Loop, bool) {
	pts := make([]s2.Point, 0, len(ring))
	for _, c := range ring {
		if len(c) < 2 {
			continue
		}
		p := s2.PointFromLatLng(s2.LatLngFromDegrees(c[1], c[0]))
		if n := len(pts); n > 0 && pts[n-1].ApproxEqual(p) {
			continue
		}
		pts = append(pts, p)
	}
	if n := len(pts); n > 1 && pts[0].ApproxEqual(pts[n-1]) {
		pts = pts[:n-1]
	}
	if len(pts) < 3 {
		return nil, false
	}
	loop := s2.LoopFromPoints(pts)
	loop.Normalize()
	return loop, true
}

// RegionAt returns the first region containing the coordinate.
func (idx *RegionIndex) RegionAt(lat, lng float64) (*Region, bool) {
	if idx == nil {
		return nil, false
	}
	for _, r := range idx.regions {
		if r.Contains(lat, lng) {
			return r, true
		}
	}
	return nil, false
}

// Lookup finds a region by name, falling back to country aliases so that
// "USA" resolves to "United States of America".
func (idx *RegionIndex) Lookup(name string) (*Region, bool) {
	if idx == nil {
		return nil, false
	}
	if r, ok := idx.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return r, true
	}
	code, ok := sources.Country(name)
	if !ok {
		return nil, false
	}
	for _, r := range idx.regions {
		if c, ok := sources.Country(r.Name); ok && c == code {
			return r, true
		}
	}
	return nil, false
}

func (idx *RegionIndex) Regions() []*Region {
	if idx == nil {
		return nil
	}
	return idx.regions
}

func (idx *RegionIndex) Names() []string {
	if idx == nil {
		return nil
	}
	names := make([]string, 0, len(idx.regions))
	for _, r := range idx.regions {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// CanonicalRegion returns the country name for a recognised alias and the
// input otherwise.
func CanonicalRegion(name string) string {
	if c, ok := sources.Country(name); ok {
		return c.String()
	}
	return name
}

// FilterByRegion keeps events labelled with region or, when idx knows the
// region, located inside its boundary.
func FilterByRegion(events []*intel.Event, region string, idx *RegionIndex) []*intel.Event {
	if region == "" {
		return events
	}
	reg, _ := idx.Lookup(region)
	canonical := CanonicalRegion(region)
	out := make([]*intel.Event, 0, len(events))
	for _, ev := range events {
		switch {
		case ev.Region == region, CanonicalRegion(ev.Region) == canonical:
			out = append(out, ev)
		case reg != nil && reg.Contains(ev.Coords.Lat, ev.Coords.Lng):
			out = append(out, ev)
		}
	}
	return out
}

// ReaderFunc opens a remote dataset; utils.GetCachedReader satisfies it.
type ReaderFunc func(url string, useCache bool, logPrefix string) (io.ReadCloser, error)

// FetchRegionIndex opens url through open, going through the disk cache, and
// parses the boundaries.
func FetchRegionIndex(open ReaderFunc, url, logPrefix string) (*RegionIndex, error) {
	if open == nil {
		open = utils.GetCachedReader
	}
	rc, err := open(url, true, logPrefix)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return LoadRegionIndex(rc)
}

// SubregionLoader fetches and memoises drill-down boundaries per country.
type SubregionLoader struct {
	open  ReaderFunc
	mu    sync.Mutex
	cache map[string]*RegionIndex
}

func NewSubregionLoader(open ReaderFunc) *SubregionLoader {
	if open == nil {
		open = utils.GetCachedReader
	}
	return &SubregionLoader{open: open, cache: make(map[string]*RegionIndex)}
}

// Load returns the sub-regions for region. ok is false when no dataset is
// known for it.
func (l *SubregionLoader) Load(region string) (idx *RegionIndex, ok bool, err error) {
	src, ok := sources.SubregionSourceFor(region)
	if !ok {
		return nil, false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx, hit := l.cache[src.Key]; hit {
		return idx, true, nil
	}
	idx, err = FetchRegionIndex(l.open, src.URL, "[regions-"+src.Key+"]")
	if err != nil {
		return nil, true, fmt.Errorf("fetching %s subregions: %w", src.Key, err)
	}
	l.cache[src.Key] = idx
	log.WithFields(log.Fields{"region": src.Key, "count": len(idx.regions)}).Info("[regions] subregions loaded")
	return idx, true, nil
}
