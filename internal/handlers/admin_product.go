package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/money"
)

type ProductStore interface {
	List(ctx context.Context, f database.ProductFilter) ([]models.Product, int64, error)
	FindBySlug(ctx context.Context, slug string) (models.Product, error)
	SlugsWithPrefix(ctx context.Context, base string) ([]string, error)
	Create(ctx context.Context, p models.Product) (models.Product, error)
	Update(ctx context.Context, id primitive.ObjectID, set bson.M) (models.Product, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type productRequest struct {
	Name             string            `json:"name" binding:"required"`
	Slug             string            `json:"slug"`
	ShortDescription string            `json:"shortDescription"`
	Description      string            `json:"description"`
	Price            money.Cents       `json:"price" binding:"gte=0"`
	ImageURL         string            `json:"imageUrl"`
	Tags             models.StringList `json:"tags"`
	IsPhysical       bool              `json:"isPhysical"`
	IsDigital        bool              `json:"isDigital"`
	IsVIP            bool              `json:"isVip"`
	Featured         bool              `json:"featured"`
	ComingSoon       bool              `json:"comingSoon"`
	InStock          *bool             `json:"inStock"`

	HSCode                 string      `json:"hsCode"`
	CountryOfOrigin        string      `json:"countryOfOrigin"`
	DefaultCustomsValueCAD money.Cents `json:"defaultCustomsValueCad" binding:"gte=0"`
	MassGrams              int         `json:"massGrams" binding:"gte=0"`
}

type productPatchRequest struct {
	Name             *string            `json:"name"`
	Slug             *string            `json:"slug"`
	ShortDescription *string            `json:"shortDescription"`
	Description      *string            `json:"description"`
	Price            *money.Cents       `json:"price" binding:"omitempty,gte=0"`
	ImageURL         *string            `json:"imageUrl"`
	Tags             *models.StringList `json:"tags"`
	IsPhysical       *bool              `json:"isPhysical"`
	IsDigital        *bool              `json:"isDigital"`
	IsVIP            *bool              `json:"isVip"`
	Featured         *bool              `json:"featured"`
	ComingSoon       *bool              `json:"comingSoon"`
	InStock          *bool              `json:"inStock"`

	HSCode                 *string      `json:"hsCode"`
	CountryOfOrigin        *string      `json:"countryOfOrigin"`
	DefaultCustomsValueCAD *money.Cents `json:"defaultCustomsValueCad" binding:"omitempty,gte=0"`
	MassGrams              *int         `json:"massGrams" binding:"omitempty,gte=0"`
}

var errSlugTaken = errors.New("slug already in use")

func GetAllProducts(store ProductStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/products"
		defer handlePanic(c, route)

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		list, total, err := store.List(ctx, database.ProductFilter{
			Search: strings.TrimSpace(c.Query("search")),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, paginationBody(list, page, limit, total))
	}
}

func CreateProduct(store ProductStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/products"
		defer handlePanic(c, route)

		var req productRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			respondWithError(c, http.StatusBadRequest, route, "name is required")
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		slug, err := resolveSlug(ctx, store, name, req.Slug, primitive.NilObjectID)
		if err != nil {
			respondProductError(c, route, err)
			return
		}

		inStock := true
		if req.InStock != nil {
			inStock = *req.InStock
		}
		product, err := store.Create(ctx, models.Product{
			Name:                   name,
			Slug:                   slug,
			ShortDescription:       strings.TrimSpace(req.ShortDescription),
			Description:            req.Description,
			Price:                  req.Price,
			ImageURL:               strings.TrimSpace(req.ImageURL),
			Tags:                   req.Tags,
			IsPhysical:             req.IsPhysical,
			IsDigital:              req.IsDigital,
			IsVIP:                  req.IsVIP,
			Featured:               req.Featured,
			ComingSoon:             req.ComingSoon,
			InStock:                inStock,
			HSCode:                 strings.TrimSpace(req.HSCode),
			CountryOfOrigin:        strings.ToUpper(strings.TrimSpace(req.CountryOfOrigin)),
			DefaultCustomsValueCAD: req.DefaultCustomsValueCAD,
			MassGrams:              req.MassGrams,
		})
		if err != nil {
			respondProductError(c, route, err)
			return
		}
		log.Printf("[%s] created product %s slug=%s", route, product.ID.Hex(), product.Slug)
		c.JSON(http.StatusCreated, product)
	}
}

func UpdateProduct(store ProductStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /admin/api/products/:id"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		var req productPatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		set := bson.M{}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				respondWithError(c, http.StatusBadRequest, route, "name cannot be empty")
				return
			}
			set["name"] = name
		}
		if req.Slug != nil {
			slug, err := resolveSlug(ctx, store, "", *req.Slug, id)
			if err != nil {
				respondProductError(c, route, err)
				return
			}
			if slug == "" {
				respondWithError(c, http.StatusBadRequest, route, "slug cannot be empty")
				return
			}
			set["slug"] = slug
		}
		setString(set, "shortDescription", req.ShortDescription)
		if req.Description != nil {
			set["description"] = *req.Description
		}
		if req.Price != nil {
			set["price"] = *req.Price
		}
		setString(set, "imageUrl", req.ImageURL)
		if req.Tags != nil {
			set["tags"] = *req.Tags
		}
		setBool(set, "isPhysical", req.IsPhysical)
		setBool(set, "isDigital", req.IsDigital)
		setBool(set, "isVip", req.IsVIP)
		setBool(set, "featured", req.Featured)
		setBool(set, "comingSoon", req.ComingSoon)
		setBool(set, "inStock", req.InStock)
		setString(set, "hsCode", req.HSCode)
		if req.CountryOfOrigin != nil {
			set["countryOfOrigin"] = strings.ToUpper(strings.TrimSpace(*req.CountryOfOrigin))
		}
		if req.DefaultCustomsValueCAD != nil {
			set["defaultCustomsValueCad"] = *req.DefaultCustomsValueCAD
		}
		if req.MassGrams != nil {
			set["massGrams"] = *req.MassGrams
		}

		if len(set) == 0 {
			respondWithError(c, http.StatusBadRequest, route, "no fields to update")
			return
		}

		product, err := store.Update(ctx, id, set)
		if err != nil {
			respondProductError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func DeleteProduct(store ProductStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /admin/api/products/:id"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		if err := store.Delete(ctx, id); err != nil {
			respondProductError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "product deleted"})
	}
}

// resolveSlug picks the stored slug. An explicit slug must be free (or
// already belong to self); a derived one gets a numeric suffix on collision.
func resolveSlug(ctx context.Context, store ProductStore, name, explicit string, self primitive.ObjectID) (string, error) {
	if slug := slugify(explicit); slug != "" {
		existing, err := store.FindBySlug(ctx, slug)
		switch {
		case errors.Is(err, database.ErrNotFound):
			return slug, nil
		case err != nil:
			return "", err
		case existing.ID == self:
			return slug, nil
		default:
			return "", errSlugTaken
		}
	}
	if name == "" {
		return "", nil
	}

	base := slugify(name)
	if base == "" {
		base = "product"
	}
	taken, err := store.SlugsWithPrefix(ctx, base)
	if err != nil {
		return "", err
	}
	return nextSlug(base, taken), nil
}

func respondProductError(c *gin.Context, route string, err error) {
	switch {
	case errors.Is(err, errSlugTaken), errors.Is(err, database.ErrDuplicate):
		respondWithError(c, http.StatusConflict, route, "slug already in use")
	case errors.Is(err, database.ErrNotFound):
		respondWithError(c, http.StatusNotFound, route, "product not found")
	default:
		respondInternal(c, route, err)
	}
}

func setString(set bson.M, key string, v *string) {
	if v != nil {
		set[key] = strings.TrimSpace(*v)
	}
}

func setBool(set bson.M, key string, v *bool) {
	if v != nil {
		set[key] = *v
	}
}
