package mongo

import (
	"context"
	"time"

	"github.com/yoockh/yoodocs/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const UsageCollection = "api_usage"

type UsageRepository interface {
	Insert(ctx context.Context, u *models.APIUsage) error
	Summary(ctx context.Context, since time.Time, limit int64) ([]models.EndpointUsage, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int64, error)
	RecentByUser(ctx context.Context, userID string, limit int64) ([]models.APIUsage, error)
}

type usageRepo struct {
	col *mongo.Collection
}

func NewUsageRepo(db *mongo.Database) UsageRepository {
	return &usageRepo{col: db.Collection(UsageCollection)}
}

func (r *usageRepo) Insert(ctx context.Context, u *models.APIUsage) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, u)
	return err
}

// Summary groups requests by endpoint, busiest first.
func (r *usageRepo) Summary(ctx context.Context, since time.Time, limit int64) ([]models.EndpointUsage, error) {
	if limit <= 0 {
		limit = 50
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":            "$endpoint",
			"requests":       bson.M{"$sum": 1},
			"tokens":         bson.M{"$sum": "$tokens"},
			"avg_latency_ms": bson.M{"$avg": "$latency_ms"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "requests", Value: -1}}}},
		{{Key: "$limit", Value: limit}},
	}

	cur, err := r.col.Aggregate(ctx, pipeline, options.Aggregate())
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.EndpointUsage{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *usageRepo) CountSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{
		"user_id":    userID,
		"created_at": bson.M{"$gte": since},
	})
}

func (r *usageRepo) RecentByUser(ctx context.Context, userID string, limit int64) ([]models.APIUsage, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := r.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.APIUsage{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
