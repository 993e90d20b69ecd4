package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/models"
)

type SnapshotRepo struct {
	db *mongo.Database
}

func NewSnapshotRepo(db *mongo.Database) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

func (r *SnapshotRepo) Save(ctx context.Context, s models.CheckoutSnapshot) error {
	_, err := r.db.Collection(snapshotsCollection).InsertOne(ctx, s)
	return translate(err)
}

func (r *SnapshotRepo) Find(ctx context.Context, ref string) (models.CheckoutSnapshot, error) {
	var s models.CheckoutSnapshot
	if err := r.db.Collection(snapshotsCollection).FindOne(ctx, bson.M{"_id": ref}).Decode(&s); err != nil {
		return models.CheckoutSnapshot{}, translate(err)
	}
	return s, nil
}
