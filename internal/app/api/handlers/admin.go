package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/internal/platform/db"
	"github.com/fatflowers/premiumgate/pkg/logctx"
	"github.com/fatflowers/premiumgate/pkg/response"
	"github.com/fatflowers/premiumgate/pkg/types"
)

// SubscriptionAdmin writes subscription rows on behalf of the billing process.
type SubscriptionAdmin interface {
	CreateUser(ctx context.Context, userID, email string) (*models.User, error)
	UpdateSubscription(ctx context.Context, userID string, patch types.SubscriptionPatch) (*models.SubscriptionRecord, error)
	ListSubscriptionLogs(ctx context.Context, userID string, limit int) ([]*models.SubscriptionLog, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, userID string) (token string, expiresAt time.Time, err error)
}

// CacheInvalidator drops a user's cached subscription in this process.
type CacheInvalidator interface {
	Invalidate(userID string)
}

type CreateUserRequest struct {
	Email string `json:"email"`
}

type IssueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func adminErrorCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, db.ErrUserNotFound):
		return response.APIResponseCodeNotFound
	case errors.Is(err, db.ErrUserExists), errors.Is(err, db.ErrEmptyPatch), errors.Is(err, db.ErrInvalidStatus):
		return response.APIResponseCodeBadRequest
	default:
		return response.APIResponseCodeError
	}
}

// @Summary      Create User (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        id       path  string                     true  "User ID"
// @Param        request  body  handlers.CreateUserRequest  false "User fields"
// @Router       /api/v1/admin/users/{id} [post]
func ApiCreateUser(admin SubscriptionAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
		}
		user, err := admin.CreateUser(c.Request.Context(), c.Param("id"), req.Email)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](adminErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(user))
	}
}

// @Summary      Update Subscription (Admin)
// @Description  Overwrites subscription columns the way the billing webhook would.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        id       path  string                   true  "User ID"
// @Param        request  body  types.SubscriptionPatch  true  "Columns to overwrite"
// @Router       /api/v1/admin/users/{id}/subscription [put]
func ApiUpdateSubscription(admin SubscriptionAdmin, cache CacheInvalidator, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch types.SubscriptionPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		userID := c.Param("id")
		rec, err := admin.UpdateSubscription(c.Request.Context(), userID, patch)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](adminErrorCode(err), err.Error()))
			return
		}
		cache.Invalidate(userID)
		logctx.FromGin(c, base).Infow("subscription_updated_by_admin", "user_id", userID, "status", rec.Status, "is_premium", rec.IsPremium)
		c.JSON(http.StatusOK, response.OKT(rec))
	}
}

// @Summary      Issue Token (Admin)
// @Tags         Admin
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Router       /api/v1/admin/users/{id}/token [post]
func ApiIssueToken(issuer TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, exp, err := issuer.Issue(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&IssueTokenResponse{Token: token, ExpiresAt: exp}))
	}
}

// @Summary      List Subscription Logs (Admin)
// @Tags         Admin
// @Produce      json
// @Param        id     path   string  true   "User ID"
// @Param        limit  query  int     false  "Max rows"
// @Router       /api/v1/admin/users/{id}/subscription_logs [get]
func ApiListSubscriptionLogs(admin SubscriptionAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		logs, err := admin.ListSubscriptionLogs(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](adminErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(logs))
	}
}

func RegisterAdminRoutes(r gin.IRouter, admin SubscriptionAdmin, issuer TokenIssuer, cache CacheInvalidator, log *zap.SugaredLogger) {
	r.POST("/users/:id", ApiCreateUser(admin))
	r.PUT("/users/:id/subscription", ApiUpdateSubscription(admin, cache, log))
	r.POST("/users/:id/token", ApiIssueToken(issuer))
	r.GET("/users/:id/subscription_logs", ApiListSubscriptionLogs(admin))
}
