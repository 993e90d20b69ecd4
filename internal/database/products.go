package database

import (
	"context"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type ProductRepo struct {
	db *mongo.Database
}

func NewProductRepo(db *mongo.Database) *ProductRepo {
	return &ProductRepo{db: db}
}

type ProductFilter struct {
	Search     string
	Featured   *bool
	IsVIP      *bool
	IsDigital  *bool
	ComingSoon *bool
	Page       int64
	Limit      int64
}

func (r *ProductRepo) List(ctx context.Context, f ProductFilter) ([]models.Product, int64, error) {
	filter := bson.M{}
	if f.Search != "" {
		pattern := primitive.Regex{Pattern: regexpQuote(f.Search), Options: "i"}
		filter["$or"] = []bson.M{
			{"name": pattern},
			{"shortDescription": pattern},
			{"tags": pattern},
		}
	}
	if f.Featured != nil {
		filter["featured"] = *f.Featured
	}
	if f.IsVIP != nil {
		filter["isVip"] = *f.IsVIP
	}
	if f.IsDigital != nil {
		filter["isDigital"] = *f.IsDigital
	}
	if f.ComingSoon != nil {
		filter["comingSoon"] = *f.ComingSoon
	}

	total, err := r.db.Collection(productsCollection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "featured", Value: -1}, {Key: "createdAt", Value: -1}})
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		opts.SetSkip((page - 1) * f.Limit).SetLimit(f.Limit)
	}

	cursor, err := r.db.Collection(productsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	products := make([]models.Product, 0)
	if err := cursor.All(ctx, &products); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *ProductRepo) FindByID(ctx context.Context, id primitive.ObjectID) (models.Product, error) {
	var p models.Product
	if err := r.db.Collection(productsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return models.Product{}, translate(err)
	}
	return p, nil
}

func (r *ProductRepo) FindBySlug(ctx context.Context, slug string) (models.Product, error) {
	var p models.Product
	if err := r.db.Collection(productsCollection).FindOne(ctx, bson.M{"slug": slug}).Decode(&p); err != nil {
		return models.Product{}, translate(err)
	}
	return p, nil
}

// FindByIDs returns the products found, keyed by hex id.
func (r *ProductRepo) FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := r.db.Collection(productsCollection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var p models.Product
		if err := cursor.Decode(&p); err != nil {
			return nil, err
		}
		out[p.ID.Hex()] = p
	}
	return out, cursor.Err()
}

// SlugsWithPrefix lists existing slugs equal to base or of the form base-N.
func (r *ProductRepo) SlugsWithPrefix(ctx context.Context, base string) ([]string, error) {
	filter := bson.M{"slug": primitive.Regex{Pattern: "^" + regexpQuote(base) + "(-[0-9]+)?$"}}
	cursor, err := r.db.Collection(productsCollection).Find(ctx, filter, options.Find().SetProjection(bson.M{"slug": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Slug string `bson:"slug"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(docs))
	for _, d := range docs {
		slugs = append(slugs, d.Slug)
	}
	return slugs, nil
}

func (r *ProductRepo) Create(ctx context.Context, p models.Product) (models.Product, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	res, err := r.db.Collection(productsCollection).InsertOne(ctx, p)
	if err != nil {
		return models.Product{}, translate(err)
	}
	p.ID = res.InsertedID.(primitive.ObjectID)
	return p, nil
}

func (r *ProductRepo) Update(ctx context.Context, id primitive.ObjectID, set bson.M) (models.Product, error) {
	set["updatedAt"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var p models.Product
	err := r.db.Collection(productsCollection).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&p)
	if err != nil {
		return models.Product{}, translate(err)
	}
	return p, nil
}

func (r *ProductRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.db.Collection(productsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func regexpQuote(s string) string {
	return regexp.QuoteMeta(s)
}
