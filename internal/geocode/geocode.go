// Package geocode defines the address-resolution boundary. The dedup engine
// never geocodes; it only sees coordinates whose confidence was already
// discounted by the tier that produced them. Better to be "somewhere in
// Crystal Lake" than nowhere on Earth.
package geocode

import (
	"context"
	"errors"
	"strings"
)

// Tier is the accuracy class of a coordinate resolution.
type Tier string

const (
	TierParcel   Tier = "parcel"   // exact address
	TierBlock    Tier = "block"    // street-centerline interpolation
	TierCentroid Tier = "centroid" // city or region center
)

// Confidence returns the extraction-confidence multiplier for the tier.
func (t Tier) Confidence() float64 {
	switch t {
	case TierParcel:
		return 0.95
	case TierBlock:
		return 0.7
	case TierCentroid:
		return 0.3
	default:
		return 0
	}
}

// ErrNoLocation means no tier could place the address.
var ErrNoLocation = errors.New("address could not be resolved")

type Result struct {
	Latitude   float64
	Longitude  float64
	Tier       Tier
	Confidence float64
}

// Geocoder resolves a textual address (and optional city) to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, address, city string) (*Result, error)
}

// CentroidGeocoder is the last-resort tier: a fixed city-to-centroid table.
// Production deployments put a parcel-accurate service in front of it; this
// one keeps feed reports with only a city name on the map.
type CentroidGeocoder struct {
	centroids map[string][2]float64
	fallback  string // region key used when the city is unknown
}

// NewCentroidGeocoder builds a centroid table geocoder. Keys are lowercased.
func NewCentroidGeocoder(centroids map[string][2]float64, fallback string) *CentroidGeocoder {
	table := make(map[string][2]float64, len(centroids))
	for k, v := range centroids {
		table[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &CentroidGeocoder{
		centroids: table,
		fallback:  strings.ToLower(strings.TrimSpace(fallback)),
	}
}

// DefaultCentroids covers the McHenry County pilot region.
func DefaultCentroids() map[string][2]float64 {
	return map[string][2]float64{
		"crystal lake":      {42.2411, -88.3162},
		"mchenry":           {42.3336, -88.2668},
		"woodstock":         {42.3147, -88.4487},
		"cary":              {42.2120, -88.2378},
		"algonquin":         {42.1656, -88.2945},
		"lake in the hills": {42.1828, -88.3310},
		"huntley":           {42.1681, -88.4281},
		"harvard":           {42.4222, -88.6145},
		"marengo":           {42.2495, -88.6084},
		"mchenry county":    {42.3239, -88.4506},
	}
}

func (g *CentroidGeocoder) Resolve(ctx context.Context, address, city string) (*Result, error) {
	key := strings.ToLower(strings.TrimSpace(city))
	coords, ok := g.centroids[key]
	if !ok {
		coords, ok = g.centroids[g.fallback]
		if !ok {
			return nil, ErrNoLocation
		}
	}

	return &Result{
		Latitude:   coords[0],
		Longitude:  coords[1],
		Tier:       TierCentroid,
		Confidence: TierCentroid.Confidence(),
	}, nil
}
