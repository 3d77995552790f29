package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fatflowers/premiumgate/internal/app/service/premium"
	"github.com/fatflowers/premiumgate/internal/models"
)

type statusOutput struct {
	Subscription *models.SubscriptionRecord `json:"subscription"`
	IsPremium    bool                       `json:"is_premium"`
	Display      premium.Display            `json:"display"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(user func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a user's subscription and premium access",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := user()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), userID, func(rt *runtime) error {
				ctx := cmd.Context()
				svc := rt.Registry.ForUser(userID)
				rec := svc.GetUserSubscription(ctx, true)
				return printJSON(cmd.OutOrStdout(), &statusOutput{
					Subscription: rec,
					IsPremium:    svc.HasAccess(ctx, rec),
					Display:      premium.Format(rec, time.Now()),
				})
			})
		},
	}
}

func newReconcileCmd(user func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark a lapsed subscription as expired",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := user()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), userID, func(rt *runtime) error {
				ctx := cmd.Context()
				svc := rt.Registry.ForUser(userID)
				rec := svc.GetSubscriptionDirect(ctx)
				if rec == nil {
					return fmt.Errorf("no subscription row for user %s", userID)
				}
				if !premium.Classify(rec, time.Now()).NeedsReconciliation {
					fmt.Fprintf(cmd.OutOrStdout(), "user %s: nothing to reconcile (status %s)\n", userID, rec.Status)
					return nil
				}
				svc.HasAccess(ctx, rec)
				after := svc.GetSubscriptionDirect(ctx)
				if after == nil || after.IsPremium {
					return fmt.Errorf("reconciliation of user %s did not take effect", userID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s: marked %s\n", userID, after.Status)
				return nil
			})
		},
	}
}

func newTokenCmd(user func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := user()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), userID, func(rt *runtime) error {
				token, exp, err := rt.Sessions.Issue(cmd.Context(), userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"token": token, "expires_at": exp})
			})
		},
	}
}

func newWatchCmd(user func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print every premium state change of a user until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := user()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), userID, func(rt *runtime) error {
				ctx := cmd.Context()
				svc, release := rt.Registry.Acquire(userID)
				defer release()

				out := json.NewEncoder(cmd.OutOrStdout())
				// No session to keep alive when acting as a fixed user.
				p := premium.NewProvider(svc, nil, rt.Log, premium.WithOnChange(func(st premium.State) {
					if err := out.Encode(st); err != nil {
						rt.Log.Warnw("failed to print state", "err", err)
					}
				}))
				p.Mount(ctx)
				defer p.Unmount()

				<-ctx.Done()
				return nil
			})
		},
	}
}
