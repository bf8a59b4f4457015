package main

import (
	"context"
	"fmt"

	"duet/internal/client"
	"duet/internal/models"
	"duet/internal/view"

	"github.com/spf13/cobra"
)

// gate opens the sign-in flow against the configured server.
func (a *app) gate(ctx context.Context) (*view.Gate, *client.Client, error) {
	c, err := a.client()
	if err != nil {
		return nil, nil, err
	}
	g, err := view.NewGate(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return g, c, nil
}

func (a *app) finishGate(cmd *cobra.Command, g *view.Gate) error {
	session := g.Session()
	if session == nil {
		return fmt.Errorf("not signed in")
	}
	if err := a.saveSession(session.Token); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	name := ""
	if session.Profile != nil {
		name = session.Profile.DisplayName
	}
	cmd.Printf("Signed in as %s\n", name)
	return nil
}

func (a *app) gateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gate",
		Short: "Show how the server admits users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			mode, err := c.Gate(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Println(mode)
			return nil
		},
	}
}

func (a *app) enterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enter",
		Short: "Enter with the shared access code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			if g.Mode() != models.GateModeCode {
				return fmt.Errorf("server does not use an access code, use duetctl login")
			}
			alias, _ := cmd.Flags().GetString("alias")
			if err := g.Enter(cmd.Context(), alias, a.v.GetString("code")); err != nil {
				return err
			}
			return a.finishGate(cmd, g)
		},
	}
	cmd.Flags().String("alias", "", "name shown to others")
	cmd.Flags().String("code", "", "access code")
	a.bindOnRun(cmd, "code")
	return cmd
}

func (a *app) signupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			if err := g.Show(view.FormSignup); err != nil {
				return err
			}
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			password := a.v.GetString("password")
			err = g.SignUp(cmd.Context(), models.SignupRequest{
				Email:           email,
				DisplayName:     name,
				Password:        password,
				ConfirmPassword: password,
			})
			if err != nil {
				return err
			}
			return a.finishGate(cmd, g)
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("password", "", "password (or DUETCTL_PASSWORD)")
	a.bindOnRun(cmd, "password")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			if g.Mode() != models.GateModeAccount {
				return fmt.Errorf("server uses an access code, use duetctl enter")
			}
			email, _ := cmd.Flags().GetString("email")
			if err := g.Login(cmd.Context(), email, a.v.GetString("password")); err != nil {
				return err
			}
			return a.finishGate(cmd, g)
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "password (or DUETCTL_PASSWORD)")
	a.bindOnRun(cmd, "password")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			if c.SignedIn() {
				if err := c.Logout(cmd.Context()); err != nil {
					return err
				}
			}
			if err := a.saveSession(""); err != nil {
				return err
			}
			cmd.Println("Signed out")
			return nil
		},
	}
}

func (a *app) forgotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forgot",
		Short: "Request a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			if err := g.Show(view.FormForgot); err != nil {
				return err
			}
			email, _ := cmd.Flags().GetString("email")
			if err := g.Forgot(cmd.Context(), email); err != nil {
				return err
			}
			for _, t := range g.Toasts() {
				cmd.Println(t.Message)
			}
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	return cmd
}

func (a *app) resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <link>",
		Short: "Set a new password from a reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := a.gate(cmd.Context())
			if err != nil {
				return err
			}
			if err := g.OpenResetLink(args[0]); err != nil {
				return err
			}
			password := a.v.GetString("password")
			if err := g.Reset(cmd.Context(), password, password); err != nil {
				return err
			}
			return a.finishGate(cmd, g)
		},
	}
	cmd.Flags().String("password", "", "new password (or DUETCTL_PASSWORD)")
	a.bindOnRun(cmd, "password")
	return cmd
}
