package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/money"
)

type Product struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name             string             `bson:"name" json:"name"`
	Slug             string             `bson:"slug" json:"slug"`
	ShortDescription string             `bson:"shortDescription,omitempty" json:"shortDescription,omitempty"`
	Description      string             `bson:"description,omitempty" json:"description,omitempty"`
	Price            money.Cents        `bson:"price" json:"price"`
	ImageURL         string             `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	Tags             StringList         `bson:"tags,omitempty" json:"tags,omitempty"`
	IsPhysical       bool               `bson:"isPhysical" json:"isPhysical"`
	IsDigital        bool               `bson:"isDigital" json:"isDigital"`
	IsVIP            bool               `bson:"isVip" json:"isVip"`
	Featured         bool               `bson:"featured" json:"featured"`
	ComingSoon       bool               `bson:"comingSoon" json:"comingSoon"`
	InStock          bool               `bson:"inStock" json:"inStock"`

	HSCode                 string      `bson:"hsCode,omitempty" json:"hsCode,omitempty"`
	CountryOfOrigin        string      `bson:"countryOfOrigin,omitempty" json:"countryOfOrigin,omitempty"`
	DefaultCustomsValueCAD money.Cents `bson:"defaultCustomsValueCad,omitempty" json:"defaultCustomsValueCad,omitempty"`
	MassGrams              int         `bson:"massGrams,omitempty" json:"massGrams,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
