package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/app/service/premium"
	"github.com/fatflowers/premiumgate/pkg/logctx"
)

const streamHeartbeat = 30 * time.Second

// StreamOptions configures the per-connection provider.
type StreamOptions struct {
	Sessions        premium.SessionRefresher
	RefreshInterval time.Duration
	Heartbeat       time.Duration
}

// @Summary      Stream Premium State
// @Description  Server-sent events carrying every premium state change of the caller.
// @Tags         Premium
// @Produce      text/event-stream
// @Router       /api/v1/premium/stream [get]
func ApiStreamPremium(reg PremiumServices, opts StreamOptions, base *zap.SugaredLogger) gin.HandlerFunc {
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = streamHeartbeat
	}
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		log := logctx.FromGin(c, base)

		svc, release := reg.Acquire(userID)
		defer release()

		// Keeps only the newest undelivered state.
		updates := make(chan premium.State, 1)
		push := func(st premium.State) {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- st:
			default:
			}
		}

		provider := premium.NewProvider(svc, opts.Sessions, log,
			premium.WithRefreshInterval(opts.RefreshInterval),
			premium.WithOnChange(push),
		)
		provider.Mount(ctx)
		defer provider.Unmount()
		log.Infow("premium_stream_opened")

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Infow("premium_stream_closed")
				return
			case st := <-updates:
				c.SSEvent("state", st)
			case <-ticker.C:
				c.SSEvent("ping", time.Now().Unix())
			}
			c.Writer.Flush()
		}
	}
}

func RegisterStreamRoutes(r gin.IRouter, reg PremiumServices, opts StreamOptions, log *zap.SugaredLogger) {
	r.GET("/premium/stream", ApiStreamPremium(reg, opts, log))
}
