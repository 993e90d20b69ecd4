package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/database"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (models.User, error)
	Create(ctx context.Context, u models.User) (models.User, error)
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expiresIn"`
	User      models.User `json:"user"`
}

// hashPassword is swapped in tests to keep bcrypt cost low.
var hashPassword = func(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

func Register(users UserStore, jwtSecret string, accessTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/auth/register"
		defer handlePanic(c, route)

		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		hash, err := hashPassword(req.Password)
		if err != nil {
			respondInternal(c, route, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		user, err := users.Create(ctx, models.User{
			Email:        strings.ToLower(strings.TrimSpace(req.Email)),
			PasswordHash: string(hash),
			Name:         strings.TrimSpace(req.Name),
			Role:         models.RoleUser,
			IsActive:     true,
		})
		if err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				respondWithError(c, http.StatusConflict, route, "email already registered")
				return
			}
			respondInternal(c, route, err)
			return
		}
		log.Printf("[AUTH] [INFO] registered user %s", user.ID.Hex())

		respondWithToken(c, route, http.StatusCreated, user, jwtSecret, accessTTL)
	}
}

func Login(users UserStore, jwtSecret string, accessTTL time.Duration) gin.HandlerFunc {
	return login("POST /api/auth/login", users, jwtSecret, accessTTL, "")
}

// AdminLogin accepts only accounts holding the admin role. Other accounts get
// the same answer as a wrong password.
func AdminLogin(users UserStore, jwtSecret string, accessTTL time.Duration) gin.HandlerFunc {
	return login("POST /admin/login", users, jwtSecret, accessTTL, models.RoleAdmin)
}

func login(route string, users UserStore, jwtSecret string, accessTTL time.Duration, requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, route)

		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		user, err := users.FindByEmail(ctx, req.Email)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondWithError(c, http.StatusUnauthorized, route, "invalid credentials")
				return
			}
			respondInternal(c, route, err)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			respondWithError(c, http.StatusUnauthorized, route, "invalid credentials")
			return
		}
		if requiredRole != "" && !strings.EqualFold(user.Role, requiredRole) {
			respondWithError(c, http.StatusUnauthorized, route, "invalid credentials")
			return
		}
		if !user.IsActive {
			respondWithError(c, http.StatusForbidden, route, "account is disabled")
			return
		}

		respondWithToken(c, route, http.StatusOK, user, jwtSecret, accessTTL)
	}
}

func respondWithToken(c *gin.Context, route string, status int, user models.User, secret string, ttl time.Duration) {
	token, err := middleware.IssueToken(secret, ttl, user, time.Now())
	if err != nil {
		respondInternal(c, route, err)
		return
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	c.JSON(status, authResponse{Token: token, ExpiresIn: int64(ttl.Seconds()), User: user})
}
