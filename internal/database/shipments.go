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

type ShipmentRepo struct {
	db *mongo.Database
}

func NewShipmentRepo(db *mongo.Database) *ShipmentRepo {
	return &ShipmentRepo{db: db}
}

func (r *ShipmentRepo) Insert(ctx context.Context, s models.Shipment) (models.Shipment, error) {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	res, err := r.db.Collection(shipmentsCollection).InsertOne(ctx, s)
	if err != nil {
		return models.Shipment{}, err
	}
	s.ID = res.InsertedID.(primitive.ObjectID)
	return s, nil
}

func (r *ShipmentRepo) FindByID(ctx context.Context, id primitive.ObjectID) (models.Shipment, error) {
	var s models.Shipment
	if err := r.db.Collection(shipmentsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		return models.Shipment{}, translate(err)
	}
	return s, nil
}

func (r *ShipmentRepo) ListByOrder(ctx context.Context, orderID primitive.ObjectID) ([]models.Shipment, error) {
	cursor, err := r.db.Collection(shipmentsCollection).Find(ctx,
		bson.M{"orderId": orderID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	shipments := make([]models.Shipment, 0)
	if err := cursor.All(ctx, &shipments); err != nil {
		return nil, err
	}
	return shipments, nil
}

func (r *ShipmentRepo) MarkCancelled(ctx context.Context, id primitive.ObjectID, audit models.APIAuditEntry) (models.Shipment, error) {
	var s models.Shipment
	err := r.db.Collection(shipmentsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":  bson.M{"status": models.ShipmentStatusCancelled, "updatedAt": time.Now().UTC()},
			"$push": bson.M{"apiAudit": audit},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&s)
	if err != nil {
		return models.Shipment{}, translate(err)
	}
	return s, nil
}
