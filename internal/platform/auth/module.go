package auth

import "go.uber.org/fx"

// Module exposes token sessions backed by Redis via Fx.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewRedisSessionStore, fx.As(new(SessionStore)))),
	fx.Provide(NewSessions),
)
