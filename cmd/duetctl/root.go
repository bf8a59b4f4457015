package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"duet/internal/client"
	"duet/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries what every command needs: the config and an API client.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "duetctl",
		Short:         "Terminal client for duet private messaging",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.duetctl.yaml)")
	flags.String("server", "http://localhost:8080", "duet server url")
	flags.String("session-file", "", "where the session token is kept (default is $HOME/.duetctl.session)")
	flags.String("log-level", "warn", "log level")
	for _, name := range []string{"config", "server", "session-file", "log-level"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		a.gateCmd(),
		a.enterCmd(),
		a.signupCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.forgotCmd(),
		a.resetCmd(),
		a.peersCmd(),
		a.historyCmd(),
		a.sendCmd(),
		a.sendMediaCmd("send-image", "Send an image", mediaImage),
		a.sendMediaCmd("send-voice", "Send a voice recording", mediaVoice),
		a.chatCmd(),
	)
	return root
}

func (a *app) initConfig() error {
	a.v.SetEnvPrefix("duetctl")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if cfgFile := a.v.GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(home)
		a.v.SetConfigName(".duetctl")
		a.v.SetConfigType("yaml")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && a.v.GetString("config") != "" {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.Setup(os.Stderr, a.v.GetString("log-level"), "console")
	return nil
}

// bindOnRun binds flags shared by several commands once the command runs,
// so each command's own flag is the one viper sees.
func (a *app) bindOnRun(cmd *cobra.Command, keys ...string) {
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		for _, key := range keys {
			if err := a.v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
				return err
			}
		}
		return nil
	}
}

func (a *app) sessionFile() string {
	if path := a.v.GetString("session-file"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".duetctl.session"
	}
	return filepath.Join(home, ".duetctl.session")
}

// client returns an API client resuming the saved session, if any.
func (a *app) client() (*client.Client, error) {
	var opts []client.Option
	if data, err := os.ReadFile(a.sessionFile()); err == nil {
		opts = append(opts, client.WithToken(strings.TrimSpace(string(data))))
	}
	return client.New(a.v.GetString("server"), opts...)
}

// signedIn is client for commands that need a session.
func (a *app) signedIn() (*client.Client, error) {
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	if !c.SignedIn() {
		return nil, errors.New("not signed in, run duetctl enter or duetctl login first")
	}
	return c, nil
}

func (a *app) saveSession(token string) error {
	path := a.sessionFile()
	if token == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(path, []byte(token+"\n"), 0600)
}
