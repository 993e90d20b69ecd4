package database

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate key")
)

const (
	ordersCollection     = "orders"
	orderItemsCollection = "order_items"
	productsCollection   = "products"
	usersCollection      = "users"
	appConfigCollection  = "app_config"
	shipmentsCollection  = "shipments"
	snapshotsCollection  = "checkout_snapshots"
	fxRatesCollection    = "fx_rates"
	outboxCollection     = "outbox"
	countersCollection   = "counters"
)

func Connect(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Println("[DB] [INFO] mongo ping ok")
	return client, nil
}

// Ping reports whether the primary is reachable.
func Ping(ctx context.Context, db *mongo.Database) error {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Client().Ping(checkCtx, readpref.Primary())
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		return err
	}
}
