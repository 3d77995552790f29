package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/premiumgate/internal/app/api/server"
	"github.com/fatflowers/premiumgate/internal/app/service/payment"
	"github.com/fatflowers/premiumgate/internal/app/service/premium"
	"github.com/fatflowers/premiumgate/internal/platform/auth"
	"github.com/fatflowers/premiumgate/internal/platform/db"
	"github.com/fatflowers/premiumgate/internal/platform/rdb"
	"github.com/fatflowers/premiumgate/internal/platform/realtime"
	"github.com/fatflowers/premiumgate/pkg/config"
	"github.com/fatflowers/premiumgate/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// bindings wires platform implementations to the interfaces services consume.
var bindings = fx.Options(
	fx.Provide(func(r *db.UserRepository) premium.RowStore { return r }),
	fx.Provide(func(b *realtime.Broker) premium.Realtime { return b }),
	fx.Provide(func(b *realtime.Broker) db.ChangePublisher { return b }),
)

// CoreModule is everything but the user resolver and the HTTP surface, so
// tooling can reuse it while acting as a fixed user.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	rdb.Module,
	realtime.Module,
	auth.Module,
	premium.Module,
	payment.Module,
	bindings,
)

var Module = fx.Options(
	CoreModule,
	fx.Provide(func() premium.UserResolver { return auth.ContextResolver{} }),
	server.Module,
)
