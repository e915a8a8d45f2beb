package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/config"
	"github.com/0neda/trackify/internal/store"
	"github.com/0neda/trackify/internal/store/postgres"
)

// openStore opens the configured backend for a CLI command.
func openStore(cmd *cobra.Command) (store.Store, error) {
	home := config.MustHomeFrom(cmd.Context())
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	if cfg.DB.Driver == "postgres" {
		return postgres.Open(cfg.DB.URL)
	}
	return store.Open(home)
}

// resolveUser looks up the acting user named by --as.
func resolveUser(ctx context.Context, st store.Store, username string) (store.User, error) {
	if username == "" {
		return store.User{}, fmt.Errorf("--as is required")
	}
	u, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return store.User{}, err
	}
	if u == nil {
		return store.User{}, apperr.NotFoundf("user %q", username)
	}
	return *u, nil
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserRegisterCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserRegisterCmd() *cobra.Command {
	var username, password, email string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user directly against the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			var emailPtr *string
			if email != "" {
				emailPtr = &email
			}
			u, err := st.CreateUser(cmd.Context(), username, string(hash), emailPtr)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered user %q (id %d)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&password, "password", "", "Password (min 8 characters)")
	cmd.Flags().StringVar(&email, "email", "", "Optional email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			users, err := st.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range users {
				email := "-"
				if u.Email != nil {
					email = *u.Email
				}
				_, _ = fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", u.ID, u.Username, email, u.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
	return cmd
}
