package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/jobchat/internal/client"
	applog "github.com/vovakirdan/jobchat/internal/log"
	"github.com/vovakirdan/jobchat/internal/proto"
)

var (
	accountFlags struct {
		server   string
		email    string
		password string
	}
	registerFlags struct {
		name   string
		avatar string
		role   string
	}
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		creds := credentials()
		user, err := c.Register(cmd.Context(), proto.RegisterRequest{
			Email:       creds.Email,
			Password:    creds.Password,
			DisplayName: registerFlags.name,
			AvatarURL:   registerFlags.avatar,
			Role:        registerFlags.role,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s) as %s\n", user.Email, user.ID, user.Role)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account the configured credentials sign in as",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, user, err := signIn(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", user.ID, user.Email, user.DisplayName, user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd, whoamiCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&accountFlags.server, "server", "", "server URL (overrides client.server_url)")
	pf.StringVar(&accountFlags.email, "email", "", "account email (overrides client.email)")
	pf.StringVar(&accountFlags.password, "password", "", "account password (overrides client.password)")

	f := registerCmd.Flags()
	f.StringVar(&registerFlags.name, "name", "", "display name")
	f.StringVar(&registerFlags.avatar, "avatar", "", "avatar URL")
	f.StringVar(&registerFlags.role, "role", "customer", "customer or photographer")
	_ = registerCmd.MarkFlagRequired("name")
}

type credentialPair struct {
	Email    string
	Password string
}

func credentials() credentialPair {
	c := credentialPair{Email: cfg.Client.Email, Password: cfg.Client.Password}
	if accountFlags.email != "" {
		c.Email = accountFlags.email
	}
	if accountFlags.password != "" {
		c.Password = accountFlags.password
	}
	return c
}

func newClient() (*client.Client, error) {
	serverURL := cfg.Client.ServerURL
	if accountFlags.server != "" {
		serverURL = accountFlags.server
	}
	return client.New(serverURL,
		client.WithTimeout(cfg.Client.Timeout),
		client.WithLogger(*applog.Component(logger, "client")),
	)
}

func signIn(ctx context.Context) (*client.Client, proto.User, error) {
	creds := credentials()
	if creds.Email == "" || creds.Password == "" {
		return nil, proto.User{}, errors.New("no credentials: set client.email and client.password or pass --email and --password")
	}
	c, err := newClient()
	if err != nil {
		return nil, proto.User{}, err
	}
	user, err := c.SignIn(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, proto.User{}, err
	}
	return c, user, nil
}
