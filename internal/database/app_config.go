package database

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type AppConfigRepo struct {
	db *mongo.Database
}

func NewAppConfigRepo(db *mongo.Database) *AppConfigRepo {
	return &AppConfigRepo{db: db}
}

// Get returns the stored JSON value for key, or ErrNotFound.
func (r *AppConfigRepo) Get(ctx context.Context, key string) (models.AppConfig, error) {
	var cfg models.AppConfig
	if err := r.db.Collection(appConfigCollection).FindOne(ctx, bson.M{"key": key}).Decode(&cfg); err != nil {
		return models.AppConfig{}, translate(err)
	}
	cfg.Value = json.RawMessage(cfg.RawValue)
	return cfg, nil
}

// Put upserts the value under key.
func (r *AppConfigRepo) Put(ctx context.Context, key string, value json.RawMessage) (models.AppConfig, error) {
	now := time.Now().UTC()
	_, err := r.db.Collection(appConfigCollection).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"value": string(value), "updatedAt": now}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return models.AppConfig{}, err
	}
	return models.AppConfig{Key: key, Value: value, RawValue: string(value), UpdatedAt: now}, nil
}
