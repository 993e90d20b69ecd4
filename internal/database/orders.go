package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type OrderRepo struct {
	db *mongo.Database
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{db: db}
}

type OrderFilter struct {
	Status        string
	PaymentStatus string
	Search        string
	UserID        *primitive.ObjectID
	Page          int64
	Limit         int64
}

// CreateWithItems inserts the order, its items and its outbox events in one
// transaction. A duplicate orderNumber returns ErrDuplicate and writes
// nothing.
func (r *OrderRepo) CreateWithItems(ctx context.Context, order models.Order, items []models.OrderItem, events []models.OutboxEvent) (models.Order, error) {
	session, err := r.db.Client().StartSession()
	if err != nil {
		return models.Order{}, err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		res, err := r.db.Collection(ordersCollection).InsertOne(sessCtx, order)
		if err != nil {
			return nil, err
		}
		orderID, ok := res.InsertedID.(primitive.ObjectID)
		if !ok {
			return nil, errors.New("unexpected order id type")
		}
		order.ID = orderID

		if len(items) > 0 {
			docs := make([]interface{}, 0, len(items))
			for i := range items {
				items[i].OrderID = orderID
				if items[i].ID.IsZero() {
					items[i].ID = primitive.NewObjectID()
				}
				docs = append(docs, items[i])
			}
			if _, err := r.db.Collection(orderItemsCollection).InsertMany(sessCtx, docs); err != nil {
				return nil, err
			}
		}

		if len(events) > 0 {
			if _, err := r.db.Collection(outboxCollection).InsertMany(sessCtx, outboxDocs(orderID, events, time.Now().UTC())); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return models.Order{}, translate(err)
	}

	order.Items = items
	return order, nil
}

func (r *OrderRepo) FindByNumber(ctx context.Context, number string) (models.Order, error) {
	var order models.Order
	err := r.db.Collection(ordersCollection).FindOne(ctx, bson.M{"orderNumber": number}).Decode(&order)
	if err != nil {
		return models.Order{}, translate(err)
	}
	return order, nil
}

// FindByID loads the order with its items.
func (r *OrderRepo) FindByID(ctx context.Context, id primitive.ObjectID) (models.Order, error) {
	var order models.Order
	if err := r.db.Collection(ordersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&order); err != nil {
		return models.Order{}, translate(err)
	}
	items, err := r.Items(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *OrderRepo) Items(ctx context.Context, orderID primitive.ObjectID) ([]models.OrderItem, error) {
	cursor, err := r.db.Collection(orderItemsCollection).Find(ctx, bson.M{"orderId": orderID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	items := make([]models.OrderItem, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *OrderRepo) List(ctx context.Context, f OrderFilter) ([]models.Order, int64, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.PaymentStatus != "" {
		filter["paymentStatus"] = f.PaymentStatus
	}
	if f.UserID != nil {
		filter["userId"] = *f.UserID
	}
	if f.Search != "" {
		pattern := primitive.Regex{Pattern: regexpQuote(f.Search), Options: "i"}
		filter["$or"] = []bson.M{
			{"orderNumber": pattern},
			{"customerEmail": pattern},
			{"customerName": pattern},
		}
	}

	total, err := r.db.Collection(ordersCollection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		opts.SetSkip((page - 1) * f.Limit).SetLimit(f.Limit)
	}

	cursor, err := r.db.Collection(ordersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	orders := make([]models.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// Update applies a $set and returns the updated order with its items.
func (r *OrderRepo) Update(ctx context.Context, id primitive.ObjectID, set bson.M) (models.Order, error) {
	if _, ok := set["updatedAt"]; !ok {
		set["updatedAt"] = time.Now().UTC()
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var order models.Order
	err := r.db.Collection(ordersCollection).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&order)
	if err != nil {
		return models.Order{}, translate(err)
	}
	items, err := r.Items(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	order.Items = items
	return order, nil
}

// Delete removes the order and all of its items.
func (r *OrderRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	session, err := r.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		res, err := r.db.Collection(ordersCollection).DeleteOne(sessCtx, bson.M{"_id": id})
		if err != nil {
			return nil, err
		}
		if res.DeletedCount == 0 {
			return nil, ErrNotFound
		}
		if _, err := r.db.Collection(orderItemsCollection).DeleteMany(sessCtx, bson.M{"orderId": id}); err != nil {
			return nil, fmt.Errorf("delete items: %w", err)
		}
		return nil, nil
	})
	return translate(err)
}
