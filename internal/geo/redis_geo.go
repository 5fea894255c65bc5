package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-matching/internal/models"
)

// RedisGeo keeps ride pickup points in a Redis GEO set.
type RedisGeo struct {
	client redis.Cmdable
	key    string
}

func NewRedisGeo(client redis.Cmdable, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Key() string { return r.key }

func (r *RedisGeo) Upsert(ctx context.Context, id string, c models.Coord) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Lon, Latitude: c.Lat, Name: id}).Err()
}

func (r *RedisGeo) Remove(ctx context.Context, id string) error {
	return r.client.ZRem(ctx, r.key, id).Err()
}

// Within returns the ids within radiusKm of center, nearest first.
func (r *RedisGeo) Within(ctx context.Context, center models.Coord, radiusKm float64) ([]string, error) {
	res, err := r.client.GeoRadius(ctx, r.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", Sort: "ASC"}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		out = append(out, g.Name)
	}
	return out, nil
}
