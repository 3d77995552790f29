package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/app/api/handlers"
	mw "github.com/fatflowers/premiumgate/internal/app/api/middleware"
	"github.com/fatflowers/premiumgate/internal/app/service/payment"
	"github.com/fatflowers/premiumgate/internal/app/service/premium"
	"github.com/fatflowers/premiumgate/internal/platform/auth"
	"github.com/fatflowers/premiumgate/internal/platform/db"
	cfgpkg "github.com/fatflowers/premiumgate/pkg/config"
	metrics "github.com/fatflowers/premiumgate/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.SugaredLogger
	Config    *cfgpkg.Config
	Engine    *gin.Engine
	Registry  *premium.Registry
	Payments  *payment.Service
	Users     *db.UserRepository
	Sessions  *auth.Sessions
}

func registerRoutes(p routeParams) {
	r, log, cfg := p.Engine, p.Log, p.Config

	// Prometheus metrics
	if cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		r.Use(prom.HandlerFunc())
		runMetricsServer(p.Lifecycle, log, prom.Server(cfg.MetricsAddr))
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))

	user := apiV1.Group("")
	user.Use(mw.AuthMiddleware(p.Sessions, log))
	handlers.RegisterPremiumRoutes(user, p.Registry)
	handlers.RegisterPaymentRoutes(user, p.Payments)
	handlers.RegisterStreamRoutes(user, p.Registry, handlers.StreamOptions{
		Sessions:        p.Sessions,
		RefreshInterval: cfg.Premium.SessionRefreshInterval,
	}, log)

	admin := apiV1.Group("/admin")
	admin.Use(mw.AdminKeyMiddleware(cfg.Admin.APIKey))
	handlers.RegisterAdminRoutes(admin, p.Users, p.Sessions, p.Registry, log)
}

func runMetricsServer(lc fx.Lifecycle, log *zap.SugaredLogger, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("metrics started", "addr", srv.Addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("metrics server error: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
