package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/erauner12/fieldsync/internal/actors"
	"github.com/erauner12/fieldsync/internal/schema"
	"github.com/spf13/cobra"
)

// withApp opens the client state, initializes the replica and runs fn
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Init(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session for later runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			email = cfg.Auth.Email
		}
		password := os.Getenv("FIELDSYNC_PASSWORD")
		if email == "" || password == "" {
			return errors.New("email (--email or auth.email) and FIELDSYNC_PASSWORD are required")
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.auth.SignIn(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Printf("Signed in as %s, session valid until %s\n", s.UserID, s.ExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.auth.SignOut(ctx)
		})
	},
}

type statusOutput struct {
	SignedIn     bool       `json:"signedIn"`
	UserID       string     `json:"userId,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CrudCount    int        `json:"crudCount"`
	PendingCount int        `json:"pendingCount"`
	Reachable    bool       `json:"reachable"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session, queued mutations and pending offline writes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var out statusOutput
			if s, err := a.auth.Session(ctx); err == nil && s != nil {
				out.SignedIn = true
				out.UserID = s.UserID
				out.ExpiresAt = &s.ExpiresAt
			}

			var err error
			if out.CrudCount, err = a.db.CrudCount(ctx); err != nil {
				return err
			}
			if out.PendingCount, err = a.guarantee.PendingCount(ctx); err != nil {
				return err
			}
			out.Reachable = a.network.Check(ctx)
			return printJSON(out)
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect and retry offline writes",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List writes waiting for the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			list, err := a.guarantee.Pending(ctx)
			if err != nil {
				return err
			}
			return printJSON(list)
		})
	},
}

var pendingSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Retry every pending write once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printJSON(a.guarantee.SyncPendingInserts(ctx))
		})
	},
}

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Forget download cursors so the next run downloads everything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.db.ResetCursors(ctx); err != nil {
				return err
			}
			fmt.Println("Download cursors cleared")
			return nil
		})
	},
}

var farmerCmd = &cobra.Command{
	Use:   "farmer",
	Short: "Register farmers",
}

var farmerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a farmer, queueing the write if the backend is unreachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		surname, _ := flags.GetString("surname")
		otherNames, _ := flags.GetString("other-names")
		gender, _ := flags.GetString("gender")
		village, _ := flags.GetString("village")
		phone, _ := flags.GetString("phone")
		subCategory, _ := flags.GetString("sub-category")

		in := actors.FarmerInput{
			SubCategory: subCategory,
			Location:    schema.Location{VillageID: village},
			Details: schema.FarmerDetailsInput{
				Surname:       surname,
				OtherNames:    otherNames,
				Gender:        gender,
				IsSmallholder: subCategory == "SMALL_SCALE",
			},
		}
		if phone != "" {
			in.Contact = &schema.ContactInput{PrimaryPhone: phone}
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			res := a.actors.InsertFarmer(ctx, in)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().String("email", "", "Account email (defaults to auth.email)")

	farmerAddCmd.Flags().String("surname", "", "Surname (required)")
	farmerAddCmd.Flags().String("other-names", "", "Given names")
	farmerAddCmd.Flags().String("gender", "", "Gender")
	farmerAddCmd.Flags().String("village", "", "Village id")
	farmerAddCmd.Flags().String("phone", "", "Primary phone number")
	farmerAddCmd.Flags().String("sub-category", "SMALL_SCALE", "Farmer sub-category")

	pendingCmd.AddCommand(pendingListCmd, pendingSyncCmd)
	farmerCmd.AddCommand(farmerAddCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, pendingCmd, resyncCmd, farmerCmd)
}
