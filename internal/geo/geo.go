package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/example/carpool-matching/internal/models"
)

const EarthRadiusKm = 6371.0

// DistanceKm is the haversine great-circle distance between two points given in
// decimal degrees. Out-of-range input still yields a number.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Between is DistanceKm for two coordinates.
func Between(a, b models.Coord) float64 {
	return DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Index keeps ride pickup points in memory for radius lookups.
type Index struct {
	mu     sync.RWMutex
	points map[string]models.Coord
}

func NewIndex() *Index {
	return &Index{points: make(map[string]models.Coord)}
}

func (g *Index) Upsert(id string, c models.Coord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[id] = c
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, id)
}

// Within returns the ids whose point lies within radiusKm of center, nearest first.
func (g *Index) Within(center models.Coord, radiusKm float64) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	arr := make([]pair, 0, len(g.points))
	for id, c := range g.points {
		if d := Between(center, c); d <= radiusKm {
			arr = append(arr, pair{id, d})
		}
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist == arr[j].dist {
			return arr[i].id < arr[j].id
		}
		return arr[i].dist < arr[j].dist
	})
	out := make([]string, len(arr))
	for i, p := range arr {
		out[i] = p.id
	}
	return out
}
