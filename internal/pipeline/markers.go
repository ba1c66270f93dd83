package pipeline

import (
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/star/orbitsync/internal/transform"
)

// Marker is a fixed ground point. Scene is in the fixed frame; the renderer
// rotates it with the body.
type Marker struct {
	Name  string     `json:"name"`
	Point orb.Point  `json:"point"`
	AltKm float64    `json:"alt_km"`
	Scene mgl64.Vec3 `json:"scene"`
}

// AddGroundMarker adds a marker at point (lon, lat degrees) altKm above the
// surface.
func (p *Pipeline) AddGroundMarker(name string, point orb.Point, altKm float64) Marker {
	m := Marker{Name: name, Point: point, AltKm: altKm, Scene: transform.PointToScene(point, altKm)}
	p.markers = append(p.markers, m)
	return m
}

// Markers returns the ground markers.
func (p *Pipeline) Markers() []Marker {
	return p.markers
}

// LoadMarkers adds a marker for every Point feature of a GeoJSON feature
// collection, named by its "name" property. Other geometries are skipped.
// It returns the number of markers added.
func (p *Pipeline) LoadMarkers(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading markers: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, fmt.Errorf("parsing markers: %w", err)
	}

	n := 0
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			p.logger.Debug("skipping non-point marker feature", "type", f.Geometry.GeoJSONType())
			continue
		}
		alt := f.Properties.MustFloat64("alt_km", 0)
		p.AddGroundMarker(f.Properties.MustString("name", ""), pt, alt)
		n++
	}
	return n, nil
}
