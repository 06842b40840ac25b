package services

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"benders-server/models"
)

const (
	bendersGeoKey   = "benders:geo"
	maxNearbyResult = 50
)

// GeoHit is one bender id from a radius search, closest first.
type GeoHit struct {
	BenderID   string
	DistanceKm float64
}

// GeoService keeps active benders in a Redis geospatial index.
type GeoService struct {
	redis *redis.Client
}

func NewGeoService(rdb *redis.Client) *GeoService {
	return &GeoService{redis: rdb}
}

func (s *GeoService) IndexBender(ctx context.Context, b *models.Bender) error {
	return s.redis.GeoAdd(ctx, bendersGeoKey, &redis.GeoLocation{
		Name:      b.ID,
		Longitude: b.Location.Longitude,
		Latitude:  b.Location.Latitude,
	}).Err()
}

func (s *GeoService) RemoveBender(ctx context.Context, benderID string) error {
	return s.redis.ZRem(ctx, bendersGeoKey, benderID).Err()
}

// Nearby returns indexed benders within radiusKm of the point.
func (s *GeoService) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]GeoHit, error) {
	geoResults, err := s.redis.GeoRadius(ctx, bendersGeoKey, lon, lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
		Count:    maxNearbyResult,
	}).Result()
	if err != nil {
		log.WithError(err).Error("Redis GeoRadius failed")
		return nil, err
	}

	hits := make([]GeoHit, 0, len(geoResults))
	for _, r := range geoResults {
		hits = append(hits, GeoHit{BenderID: r.Name, DistanceKm: r.Dist})
	}
	return hits, nil
}
