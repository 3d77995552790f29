package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/fatflowers/premiumgate/internal/app/service/payment"
	"github.com/fatflowers/premiumgate/internal/app/service/premium"
	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/internal/platform/auth"
	"github.com/fatflowers/premiumgate/pkg/response"
)

// PremiumServices hands out the premium service bound to a user.
type PremiumServices interface {
	ForUser(userID string) *premium.Service
	Acquire(userID string) (svc *premium.Service, release func())
}

// PaymentHistoryLister pages through a user's payments.
type PaymentHistoryLister interface {
	ListPaymentHistory(ctx context.Context, req *payment.ListHistoryRequest) (*payment.ListHistoryResponse, error)
}

type SubscriptionResponse struct {
	Subscription *models.SubscriptionRecord `json:"subscription"`
	IsPremium    bool                       `json:"is_premium"`
	Display      premium.Display            `json:"display"`
}

type FeatureAccessResponse struct {
	Feature   premium.Feature `json:"feature"`
	CanAccess bool            `json:"can_access"`
}

func currentUserID(c *gin.Context) (string, bool) {
	u := auth.UserFromContext(c.Request.Context())
	if u == nil || u.ID == "" {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeUnauthorized, "missing user"))
		return "", false
	}
	return u.ID, true
}

func subscriptionResponse(ctx context.Context, svc *premium.Service, rec *models.SubscriptionRecord) *SubscriptionResponse {
	return &SubscriptionResponse{
		Subscription: rec,
		IsPremium:    svc.HasAccess(ctx, rec),
		Display:      premium.Format(rec, time.Now()),
	}
}

// @Summary      Get Subscription
// @Description  Returns the caller's subscription, premium flag and display texts.
// @Tags         Premium
// @Produce      json
// @Param        force_refresh  query  bool  false  "Bypass the cache"
// @Router       /api/v1/premium/subscription [get]
func ApiGetSubscription(reg PremiumServices) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		force, _ := strconv.ParseBool(c.Query("force_refresh"))
		ctx := c.Request.Context()
		svc := reg.ForUser(userID)
		rec := svc.GetUserSubscription(ctx, force)
		c.JSON(http.StatusOK, response.OKT(subscriptionResponse(ctx, svc, rec)))
	}
}

// @Summary      Refresh Subscription
// @Description  Drops the cached subscription and reloads it from the database.
// @Tags         Premium
// @Produce      json
// @Router       /api/v1/premium/subscription/refresh [post]
func ApiRefreshSubscription(reg PremiumServices) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		svc := reg.ForUser(userID)
		svc.Invalidate()
		rec := svc.GetSubscriptionDirect(ctx)
		c.JSON(http.StatusOK, response.OKT(subscriptionResponse(ctx, svc, rec)))
	}
}

// @Summary      Check Feature Access
// @Tags         Premium
// @Produce      json
// @Param        feature  path  string  true  "Feature name"
// @Router       /api/v1/premium/features/{feature} [get]
func ApiCanAccessFeature(reg PremiumServices) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		feature := premium.Feature(c.Param("feature"))
		if !feature.Valid() {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "unknown feature"))
			return
		}
		canAccess := reg.ForUser(userID).CanAccessFeature(c.Request.Context(), feature)
		c.JSON(http.StatusOK, response.OKT(&FeatureAccessResponse{Feature: feature, CanAccess: canAccess}))
	}
}

// @Summary      List Payment History
// @Description  Returns the caller's payments, newest first.
// @Tags         Payment
// @Produce      json
// @Param        from    query  int     false  "Offset"
// @Param        size    query  int     false  "Page size"
// @Param        status  query  string  false  "Comma separated statuses"
// @Router       /api/v1/payments/history [get]
func ApiListPaymentHistory(svc PaymentHistoryLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		from := 0
		if v := c.Query("from"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				from = n
			}
		}
		size := payment.DefaultPageSize
		if v := c.Query("size"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				size = n
			} else {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid size"))
				return
			}
		}
		var statuses []string
		for _, v := range c.QueryArray("status") {
			statuses = append(statuses, strings.Split(v, ",")...)
		}
		statuses = lo.Compact(lo.Map(statuses, func(s string, _ int) string { return strings.TrimSpace(s) }))

		res, err := svc.ListPaymentHistory(c.Request.Context(), &payment.ListHistoryRequest{
			UserID: userID,
			Status: statuses,
			From:   from,
			Size:   size,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterPremiumRoutes(r gin.IRouter, reg PremiumServices) {
	r.GET("/premium/subscription", ApiGetSubscription(reg))
	r.POST("/premium/subscription/refresh", ApiRefreshSubscription(reg))
	r.GET("/premium/features/:feature", ApiCanAccessFeature(reg))
}

func RegisterPaymentRoutes(r gin.IRouter, svc PaymentHistoryLister) {
	r.GET("/payments/history", ApiListPaymentHistory(svc))
}
