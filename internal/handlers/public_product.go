package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/database"
)

/*
GET /api/products
- pagination only when page and limit are both given
- flags: featured, vip, digital, comingSoon
*/
func GetProducts(store ProductStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/products"
		defer handlePanic(c, route)

		filter := database.ProductFilter{Search: strings.TrimSpace(c.Query("search"))}
		for param, target := range map[string]**bool{
			"featured":   &filter.Featured,
			"vip":        &filter.IsVIP,
			"digital":    &filter.IsDigital,
			"comingSoon": &filter.ComingSoon,
		} {
			raw := strings.TrimSpace(c.Query(param))
			if raw == "" {
				continue
			}
			v, err := strconv.ParseBool(raw)
			if err != nil {
				respondWithError(c, http.StatusBadRequest, route, "invalid "+param+" flag")
				return
			}
			*target = &v
		}

		pageStr, limitStr := c.Query("page"), c.Query("limit")
		paged := pageStr != "" && limitStr != ""
		if paged {
			page, limit, err := parsePaginationParams(pageStr, limitStr)
			if err != nil {
				respondWithError(c, http.StatusBadRequest, route, err.Error())
				return
			}
			filter.Page, filter.Limit = page, limit
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		products, total, err := store.List(ctx, filter)
		if err != nil {
			respondInternal(c, route, err)
			return
		}

		log.Printf("[%s] returning %d products", route, len(products))
		if paged {
			c.JSON(http.StatusOK, paginationBody(products, filter.Page, filter.Limit, total))
			return
		}
		c.JSON(http.StatusOK, products)
	}
}

func GetProductBySlug(store ProductStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/products/:slug"
		defer handlePanic(c, route)

		slug := strings.ToLower(strings.TrimSpace(c.Param("slug")))
		if slug == "" {
			respondWithError(c, http.StatusBadRequest, route, "slug is required")
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		product, err := store.FindBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondWithError(c, http.StatusNotFound, route, "product not found")
				return
			}
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}
