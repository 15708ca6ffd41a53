package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/castboard/castboard/internal/auth"
)

var (
	authEmail         string
	authPasswordStdin bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the castboard session",
}

var authSignUpCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authenticate(cmd, func(a *app, ctx context.Context, email, password string) (*auth.User, error) {
			return a.client.SignUp(ctx, email, password)
		})
	},
}

var authSignInCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in to an existing account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authenticate(cmd, func(a *app, ctx context.Context, email, password string) (*auth.User, error) {
			return a.client.SignIn(ctx, email, password)
		})
	},
}

var authSignOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Revoke the session and forget it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if a.client.SignedIn() {
			if err := a.client.SignOut(cmd.Context()); err != nil {
				a.logger.Warn().Err(err).Msg("failed to revoke refresh token")
			}
		}
		if err := a.tokens.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}

		access, err := a.client.CheckAccess(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.save(); err != nil {
			return err
		}

		email := ""
		if u := a.client.Tokens().User; u != nil {
			email = u.Email
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", email, access.UserID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{authSignUpCmd, authSignInCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "account email")
		c.Flags().BoolVar(&authPasswordStdin, "password-stdin", false, "read the password from stdin")
		_ = c.MarkFlagRequired("email")
	}
	authCmd.AddCommand(authSignUpCmd, authSignInCmd, authSignOutCmd, authWhoamiCmd)
}

func authenticate(cmd *cobra.Command, fn func(a *app, ctx context.Context, email, password string) (*auth.User, error)) error {
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	user, err := fn(a, cmd.Context(), authEmail, password)
	if err != nil {
		return err
	}
	if err := a.save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", user.Email)
	return nil
}

// readPassword takes the password from stdin with --password-stdin, or
// from CASTBOARD_PASSWORD.
func readPassword(cmd *cobra.Command) (string, error) {
	if !authPasswordStdin {
		if p := os.Getenv("CASTBOARD_PASSWORD"); p != "" {
			return p, nil
		}
		return "", errors.New("no password: pass --password-stdin or set CASTBOARD_PASSWORD")
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
