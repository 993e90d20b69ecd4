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
	"storefront/internal/middleware"
	"storefront/internal/models"
)

type UserAdmin interface {
	UserStore
	FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	List(ctx context.Context, search string, page, limit int64) ([]models.User, int64, error)
	Update(ctx context.Context, id primitive.ObjectID, set bson.M) (models.User, error)
}

type createUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
	Role     string `json:"role" binding:"omitempty,oneof=USER ADMIN"`
}

type userPatchRequest struct {
	Role     *string `json:"role" binding:"omitempty,oneof=USER ADMIN"`
	IsActive *bool   `json:"isActive"`
	Name     *string `json:"name"`
}

// GetMe returns the account behind the bearer token.
func GetMe(users UserAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/me"
		defer handlePanic(c, route)

		userID, _, _ := middleware.Identity(c)
		id, err := primitive.ObjectIDFromHex(userID)
		if err != nil {
			log.Printf("[AUTH] [ERROR] token subject %q is not an object id", userID)
			respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		user, err := users.FindByID(ctx, id)
		if err != nil {
			respondUserError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func GetUsers(users UserAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /admin/api/users"
		defer handlePanic(c, route)

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		list, total, err := users.List(ctx, strings.TrimSpace(c.Query("search")), page, limit)
		if err != nil {
			respondInternal(c, route, err)
			return
		}
		c.JSON(http.StatusOK, paginationBody(list, page, limit, total))
	}
}

func CreateUser(users UserAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/users"
		defer handlePanic(c, route)

		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		role := req.Role
		if role == "" {
			role = models.RoleUser
		}

		hash, err := hashPassword(req.Password)
		if err != nil {
			respondInternal(c, route, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		user, err := users.Create(ctx, models.User{
			Email:        req.Email,
			PasswordHash: string(hash),
			Name:         strings.TrimSpace(req.Name),
			Role:         role,
			IsActive:     true,
		})
		if err != nil {
			respondUserError(c, route, err)
			return
		}
		log.Printf("[USERS] [INFO] created %s user %s", role, user.ID.Hex())
		c.JSON(http.StatusCreated, user)
	}
}

func UpdateUser(users UserAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /admin/api/users/:id"
		defer handlePanic(c, route)

		id, ok := parseObjectID(c, route, "id")
		if !ok {
			return
		}

		var req userPatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		set := bson.M{}
		if req.Role != nil {
			set["role"] = *req.Role
		}
		if req.IsActive != nil {
			set["isActive"] = *req.IsActive
		}
		if req.Name != nil {
			set["name"] = strings.TrimSpace(*req.Name)
		}
		if len(set) == 0 {
			respondWithError(c, http.StatusBadRequest, route, "no fields to update")
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		user, err := users.Update(ctx, id, set)
		if err != nil {
			respondUserError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func respondUserError(c *gin.Context, route string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondWithError(c, http.StatusNotFound, route, "user not found")
	case errors.Is(err, database.ErrDuplicate):
		respondWithError(c, http.StatusConflict, route, "email already registered")
	default:
		respondInternal(c, route, err)
	}
}
