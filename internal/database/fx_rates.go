package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type FxRateRepo struct {
	db *mongo.Database
}

func NewFxRateRepo(db *mongo.Database) *FxRateRepo {
	return &FxRateRepo{db: db}
}

func (r *FxRateRepo) Get(ctx context.Context, base string) (models.FxRateCache, error) {
	var c models.FxRateCache
	if err := r.db.Collection(fxRatesCollection).FindOne(ctx, bson.M{"_id": base}).Decode(&c); err != nil {
		return models.FxRateCache{}, translate(err)
	}
	return c, nil
}

// Put replaces the cached table for c.Base.
func (r *FxRateRepo) Put(ctx context.Context, c models.FxRateCache) error {
	_, err := r.db.Collection(fxRatesCollection).ReplaceOne(ctx, bson.M{"_id": c.Base}, c, options.Replace().SetUpsert(true))
	return err
}
