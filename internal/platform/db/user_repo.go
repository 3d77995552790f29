package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/premiumgate/internal/models"
	cfgpkg "github.com/fatflowers/premiumgate/pkg/config"
	"github.com/fatflowers/premiumgate/pkg/logctx"
	"github.com/fatflowers/premiumgate/pkg/tool"
	"github.com/fatflowers/premiumgate/pkg/types"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
	ErrEmptyPatch    = errors.New("subscription patch is empty")
	ErrCircuitOpen   = errors.New("database circuit open")
	ErrInvalidStatus = errors.New("invalid subscription status")
)

// ChangePublisher announces committed row changes to realtime subscribers.
type ChangePublisher interface {
	Publish(ctx context.Context, change types.RowChange) error
}

// UserRepository reads and writes the subscription columns of users rows.
// Every database call goes through a circuit breaker.
type UserRepository struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	publisher ChangePublisher
	breaker   *gobreaker.CircuitBreaker[any]
	now       func() time.Time
}

func NewUserRepository(db *gorm.DB, log *zap.SugaredLogger, cfg *cfgpkg.Config, publisher ChangePublisher) *UserRepository {
	return &UserRepository{
		db:        db,
		log:       log,
		publisher: publisher,
		breaker:   newBreaker("postgres-users", cfg.Breaker, log),
		now:       time.Now,
	}
}

func newBreaker(name string, cfg cfgpkg.BreakerConfig, log *zap.SugaredLogger) *gobreaker.CircuitBreaker[any] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A missing row is an answer, not a failing database.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUserExists)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

func (r *UserRepository) execute(fn func() (any, error)) (any, error) {
	res, err := r.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return res, err
}

// FindSubscription returns the subscription projection of userID, or nil
// when no row exists.
func (r *UserRepository) FindSubscription(ctx context.Context, userID string) (*models.SubscriptionRecord, error) {
	res, err := r.execute(func() (any, error) {
		var rec models.SubscriptionRecord
		err := r.db.WithContext(ctx).
			Select(models.SubscriptionColumns).
			Where("id = ?", userID).
			Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return (*models.SubscriptionRecord)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return &rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	rec, _ := res.(*models.SubscriptionRecord)
	return rec, nil
}

// MarkExpired revokes premium on userID's row and marks it expired.
func (r *UserRepository) MarkExpired(ctx context.Context, userID string, at time.Time) error {
	status := types.SubscriptionStatusExpired
	premium := false
	patch := types.SubscriptionPatch{IsPremium: &premium, Status: &status}
	_, err := r.update(ctx, userID, patch, at, types.SubscriptionChangeReasonReconcileExpired)
	if err != nil {
		return fmt.Errorf("failed to mark subscription expired: %w", err)
	}
	return nil
}

// UpdateSubscription applies patch to userID's row and returns the new
// projection.
func (r *UserRepository) UpdateSubscription(ctx context.Context, userID string, patch types.SubscriptionPatch) (*models.SubscriptionRecord, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, *patch.Status)
	}
	if patch.PlanType != nil && !patch.PlanType.Valid() {
		return nil, fmt.Errorf("invalid plan type: %s", *patch.PlanType)
	}
	return r.update(ctx, userID, patch, r.now(), types.SubscriptionChangeReasonAdminUpdate)
}

func (r *UserRepository) update(ctx context.Context, userID string, patch types.SubscriptionPatch, at time.Time, reason types.SubscriptionChangeReason) (*models.SubscriptionRecord, error) {
	updates := patchUpdates(patch)
	if len(updates) == 0 {
		return nil, ErrEmptyPatch
	}
	updates["updated_at"] = at

	var before, after models.SubscriptionRecord
	_, err := r.execute(func() (any, error) {
		return nil, r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Select(models.SubscriptionColumns).Where("id = ?", userID).Take(&before).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrUserNotFound
				}
				return err
			}
			// expired never leaves premium behind, whichever column the patch touches
			status := before.Status
			if patch.Status != nil {
				status = *patch.Status
			}
			if status == types.SubscriptionStatusExpired {
				updates["is_premium"] = false
			}
			res := tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrUserNotFound
			}
			return tx.Select(models.SubscriptionColumns).Where("id = ?", userID).Take(&after).Error
		})
	})
	if err != nil {
		return nil, err
	}

	r.afterWrite(ctx, types.RowChangeUpdate, userID, at, &before, &after, reason)
	return &after, nil
}

// CreateUser inserts a row with default subscription columns.
func (r *UserRepository) CreateUser(ctx context.Context, userID, email string) (*models.User, error) {
	user := models.NewUser(userID, email)
	_, err := r.execute(func() (any, error) {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(user)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrUserExists
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	r.afterWrite(ctx, types.RowChangeInsert, userID, user.CreatedAt, nil, user.Record(), types.SubscriptionChangeReasonCreate)
	return user, nil
}

// ListSubscriptionLogs returns the newest audit rows of userID first.
func (r *UserRepository) ListSubscriptionLogs(ctx context.Context, userID string, limit int) ([]*models.SubscriptionLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	res, err := r.execute(func() (any, error) {
		var logs []*models.SubscriptionLog
		err := r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit).
			Find(&logs).Error
		return logs, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription logs: %w", err)
	}
	logs, _ := res.([]*models.SubscriptionLog)
	return logs, nil
}

// afterWrite publishes the change and records the audit row. Neither may
// fail the write that already committed.
func (r *UserRepository) afterWrite(ctx context.Context, typ types.RowChangeType, userID string, at time.Time, before, after *models.SubscriptionRecord, reason types.SubscriptionChangeReason) {
	log := logctx.FromCtx(ctx, r.log)
	if r.publisher != nil {
		change := types.RowChange{Type: typ, Table: models.UsersTable, RowID: userID, CommittedAt: at}
		if err := r.publisher.Publish(ctx, change); err != nil {
			log.Warnw("failed to publish row change", "user_id", userID, "err", err)
		}
	}

	entry := &models.SubscriptionLog{
		ID:     tool.GenerateUUIDV7(),
		UserID: userID,
		Reason: reason,
		Before: datatypes.NewJSONType(before),
		After:  datatypes.NewJSONType(after),
	}
	go func() {
		if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(entry).Error; err != nil {
			log.Errorw("failed to save subscription log", "user_id", userID, "reason", reason, "err", err)
		}
	}()
}

// patchUpdates maps the non-nil fields of p to column updates.
func patchUpdates(p types.SubscriptionPatch) map[string]interface{} {
	updates := map[string]interface{}{}
	if p.IsPremium != nil {
		updates["is_premium"] = *p.IsPremium
	}
	if p.PlanType != nil {
		updates["subscription_type"] = *p.PlanType
	}
	if p.Status != nil {
		updates["subscription_status"] = *p.Status
		// expired never leaves premium behind
		if *p.Status == types.SubscriptionStatusExpired {
			updates["is_premium"] = false
		}
	}
	if p.PeriodStart != nil {
		updates["subscription_start_date"] = *p.PeriodStart
	}
	if p.PeriodEnd != nil {
		updates["subscription_end_date"] = *p.PeriodEnd
	}
	if p.BillingCustomerRef != nil {
		updates["stripe_customer_id"] = *p.BillingCustomerRef
	}
	return updates
}
