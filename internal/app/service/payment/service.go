package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/premiumgate/internal/models"
	"github.com/fatflowers/premiumgate/pkg/logctx"
	"github.com/fatflowers/premiumgate/pkg/types"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrMissingUser = errors.New("missing user id")

// ListHistoryRequest pages through one user's payments, newest first.
type ListHistoryRequest struct {
	UserID string `json:"user_id"`
	// Status optionally narrows to the given payment statuses.
	Status []string `json:"status"`
	From   int      `json:"from"`
	Size   int      `json:"size"`
}

type ListHistoryResponse struct {
	Items []*models.PaymentHistory `json:"items"`
	Total int64                    `json:"total"`
}

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// ListPaymentHistory returns a page of the user's payment history.
func (s *Service) ListPaymentHistory(ctx context.Context, req *ListHistoryRequest) (*ListHistoryResponse, error) {
	if req == nil || req.UserID == "" {
		return nil, ErrMissingUser
	}
	normalizePage(req)

	tx := s.db.WithContext(ctx).Model(&models.PaymentHistory{}).
		Where(clause.Where{Exprs: []clause.Expression{historyFilters(req)}})

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count payment history: %w", err)
	}

	var rows []*models.PaymentHistory
	q := tx.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: "created_at"}, Desc: true}}}).
		Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payment history: %w", err)
	}

	logctx.FromCtx(ctx, s.log).Debugw("listed payment history", "user_id", req.UserID, "count", len(rows), "total", total)
	return &ListHistoryResponse{Items: rows, Total: total}, nil
}

func normalizePage(req *ListHistoryRequest) {
	if req.Size <= 0 {
		req.Size = DefaultPageSize
	}
	if req.Size > MaxPageSize {
		req.Size = MaxPageSize
	}
	if req.From < 0 {
		req.From = 0
	}
}

func historyFilters(req *ListHistoryRequest) types.FiltersAnd {
	filters := types.FiltersAnd{
		{Field: "user_id", Operator: types.CommonFilterOperatorEq, Values: []any{req.UserID}},
	}
	if len(req.Status) > 0 {
		values := lo.Map(lo.Uniq(req.Status), func(st string, _ int) any { return st })
		filters = append(filters, &types.CommonFilter{Field: "status", Operator: types.CommonFilterOperatorIn, Values: values})
	}
	return filters
}

var Module = fx.Options(
	fx.Provide(New),
)
