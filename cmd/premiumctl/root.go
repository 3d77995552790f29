package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/internal/app"
	"github.com/fatflowers/premiumgate/internal/app/service/premium"
	"github.com/fatflowers/premiumgate/internal/platform/auth"
	"github.com/fatflowers/premiumgate/pkg/config"
)

var errMissingUser = errors.New("--user is required")

// runtime is the slice of the application graph the commands use.
type runtime struct {
	Registry *premium.Registry
	Sessions *auth.Sessions
	Config   *config.Config
	Log      *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	var userID string

	root := &cobra.Command{
		Use:          "premiumctl",
		Short:        "Inspect and operate premium subscriptions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&userID, "user", "", "user id to act as")

	user := func() (string, error) {
		if userID == "" {
			return "", errMissingUser
		}
		return userID, nil
	}

	root.AddCommand(
		newStatusCmd(user),
		newReconcileCmd(user),
		newTokenCmd(user),
		newWatchCmd(user),
	)
	return root
}

// withRuntime starts the core graph acting as userID, runs fn and stops the
// graph again.
func withRuntime(ctx context.Context, userID string, fn func(rt *runtime) error) error {
	var rt runtime
	a := fx.New(
		app.CoreModule,
		fx.Provide(func() premium.UserResolver { return auth.StaticResolver(userID) }),
		fx.Populate(&rt.Registry, &rt.Sessions, &rt.Config, &rt.Log),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	runErr := fn(&rt)

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), app.DefaultStopTimeout)
	defer cancelStop()
	if err := a.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	return runErr
}
