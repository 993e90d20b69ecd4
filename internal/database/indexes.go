package database

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates every index the application relies on. Failures are
// logged per collection and the first one is returned.
func EnsureIndexes(db *mongo.Database) error {
	var first error
	for _, ensure := range []func(*mongo.Database) error{
		EnsureProductIndexes,
		EnsureUserIndexes,
		EnsureOrderIndexes,
		EnsureShipmentIndexes,
		EnsureAppConfigIndexes,
		EnsureCheckoutSnapshotIndexes,
		EnsureOutboxIndexes,
	} {
		if err := ensure(db); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func createIndexes(db *mongo.Database, collection string, models ...mongo.IndexModel) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	names, err := db.Collection(collection).Indexes().CreateMany(ctx, models)
	if err != nil {
		log.Printf("[DB] [ERROR] %s index error: %v", collection, err)
		return err
	}
	log.Printf("[DB] [INFO] %s indexes ready: %v", collection, names)
	return nil
}

func EnsureProductIndexes(db *mongo.Database) error {
	return createIndexes(db, productsCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetName("slug_unique").SetUnique(true),
		},
		mongo.IndexModel{
			Keys:    bson.D{{Key: "featured", Value: -1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("featured_createdAt"),
		},
	)
}

func EnsureUserIndexes(db *mongo.Database) error {
	return createIndexes(db, usersCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("email_unique").SetUnique(true),
		},
	)
}

func EnsureOrderIndexes(db *mongo.Database) error {
	if err := createIndexes(db, ordersCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "orderNumber", Value: 1}},
			Options: options.Index().SetName("orderNumber_unique").SetUnique(true),
		},
		mongo.IndexModel{
			Keys:    bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().SetName("userId_index"),
		},
		mongo.IndexModel{
			Keys:    bson.D{{Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("createdAt_desc"),
		},
	); err != nil {
		return err
	}
	return createIndexes(db, orderItemsCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "orderId", Value: 1}},
			Options: options.Index().SetName("orderId_index"),
		},
	)
}

func EnsureShipmentIndexes(db *mongo.Database) error {
	return createIndexes(db, shipmentsCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "orderId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("orderId_createdAt"),
		},
	)
}

func EnsureAppConfigIndexes(db *mongo.Database) error {
	return createIndexes(db, appConfigCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetName("key_unique").SetUnique(true),
		},
	)
}

func EnsureCheckoutSnapshotIndexes(db *mongo.Database) error {
	return createIndexes(db, snapshotsCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetName("expiresAt_ttl").SetExpireAfterSeconds(0),
		},
	)
}

func EnsureOutboxIndexes(db *mongo.Database) error {
	return createIndexes(db, outboxCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "nextAttemptAt", Value: 1}},
			Options: options.Index().SetName("status_nextAttemptAt"),
		},
	)
}
