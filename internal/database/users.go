package database

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type UserRepo struct {
	db *mongo.Database
}

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.db.Collection(usersCollection).FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&u)
	if err != nil {
		return models.User{}, translate(err)
	}
	return u, nil
}

func (r *UserRepo) FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	var u models.User
	if err := r.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return models.User{}, translate(err)
	}
	return u, nil
}

func (r *UserRepo) Create(ctx context.Context, u models.User) (models.User, error) {
	now := time.Now().UTC()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = now
	u.UpdatedAt = now
	res, err := r.db.Collection(usersCollection).InsertOne(ctx, u)
	if err != nil {
		return models.User{}, translate(err)
	}
	u.ID = res.InsertedID.(primitive.ObjectID)
	return u, nil
}

func (r *UserRepo) List(ctx context.Context, search string, page, limit int64) ([]models.User, int64, error) {
	filter := bson.M{}
	if search != "" {
		pattern := primitive.Regex{Pattern: regexpQuote(search), Options: "i"}
		filter["$or"] = []bson.M{{"email": pattern}, {"name": pattern}}
	}
	total, err := r.db.Collection(usersCollection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		if page < 1 {
			page = 1
		}
		opts.SetSkip((page - 1) * limit).SetLimit(limit)
	}
	cursor, err := r.db.Collection(usersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	users := make([]models.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepo) Update(ctx context.Context, id primitive.ObjectID, set bson.M) (models.User, error) {
	set["updatedAt"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var u models.User
	err := r.db.Collection(usersCollection).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&u)
	if err != nil {
		return models.User{}, translate(err)
	}
	return u, nil
}

// ActiveAdminEmails lists the addresses that receive order notifications.
func (r *UserRepo) ActiveAdminEmails(ctx context.Context) ([]string, error) {
	cursor, err := r.db.Collection(usersCollection).Find(ctx,
		bson.M{"role": models.RoleAdmin, "isActive": true},
		options.Find().SetProjection(bson.M{"email": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Email string `bson:"email"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Email != "" {
			emails = append(emails, d.Email)
		}
	}
	return emails, nil
}
