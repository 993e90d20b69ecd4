package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type OutboxRepo struct {
	db *mongo.Database
}

func NewOutboxRepo(db *mongo.Database) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// outboxDocs stamps pending events for orderID, ready for InsertMany.
func outboxDocs(orderID primitive.ObjectID, events []models.OutboxEvent, now time.Time) []interface{} {
	docs := make([]interface{}, 0, len(events))
	for _, e := range events {
		e.OrderID = orderID
		e.Status = models.OutboxPending
		e.CreatedAt = now
		e.UpdatedAt = now
		if e.NextAttemptAt.IsZero() {
			e.NextAttemptAt = now
		}
		docs = append(docs, e)
	}
	return docs
}

// ClaimNext moves one due pending event to processing and returns it.
func (r *OutboxRepo) ClaimNext(ctx context.Context, now time.Time) (models.OutboxEvent, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "nextAttemptAt", Value: 1}}).
		SetReturnDocument(options.After)

	var e models.OutboxEvent
	err := r.db.Collection(outboxCollection).FindOneAndUpdate(ctx,
		bson.M{"status": models.OutboxPending, "nextAttemptAt": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": models.OutboxProcessing, "updatedAt": now}, "$inc": bson.M{"attempts": 1}},
		opts,
	).Decode(&e)
	if err != nil {
		return models.OutboxEvent{}, translate(err)
	}
	return e, nil
}

func (r *OutboxRepo) MarkDone(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.db.Collection(outboxCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": models.OutboxDone, "updatedAt": time.Now().UTC()}, "$unset": bson.M{"lastError": ""}},
	)
	return err
}

// MarkFailed records the error. A zero retryAt marks the event as failed for
// good, otherwise it returns to pending until retryAt.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id primitive.ObjectID, cause string, retryAt time.Time) error {
	set := bson.M{"lastError": cause, "updatedAt": time.Now().UTC()}
	if retryAt.IsZero() {
		set["status"] = models.OutboxFailed
	} else {
		set["status"] = models.OutboxPending
		set["nextAttemptAt"] = retryAt
	}
	_, err := r.db.Collection(outboxCollection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}

// ReleaseStale returns events left in processing since before to pending.
func (r *OutboxRepo) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.Collection(outboxCollection).UpdateMany(ctx,
		bson.M{"status": models.OutboxProcessing, "updatedAt": bson.M{"$lt": before}},
		bson.M{"$set": bson.M{"status": models.OutboxPending, "nextAttemptAt": before}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
