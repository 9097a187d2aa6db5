// floor-client is a terminal client for the order router. It keeps one
// session open, prints every event it receives and can send status changes.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ms-restaurant/internal/events"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/session"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "floor-client",
	Short: "Watch restaurant order events as a waiter, cook or admin",
	Long: `floor-client connects to the order router, authenticates with the stored
credentials (see "floor-client login") and prints order events as they arrive.
Lost connections are retried with exponential backoff.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := logger.New(logger.Options{})
		if err != nil {
			return err
		}

		s := newSession(cfg, log)
		for _, name := range watchedEvents(cfg) {
			s.On(name, func(data json.RawMessage) {
				log.Info("EVENT", fmt.Sprintf("%s %s", name, data))
			})
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		s.Connect()
		<-stop
		s.Disconnect()
		return nil
	},
}

func newSession(cfg *clientConfig, log *logger.Logger) *session.Session {
	var creds session.CredentialStore = session.FileCredentialStore{Path: cfg.Credentials}
	if cfg.UserID != "" {
		creds = session.StaticCredentials{UserID: cfg.UserID, Role: cfg.Role, Token: cfg.Token}
	}
	return session.New(session.Options{
		Dialer:      session.WSDialer{URL: cfg.URL},
		Credentials: creds,
		Policy:      cfg.policy(),
		AuthTimeout: cfg.AuthTimeout,
		Logger:      log,
	})
}

// watchedEvents adds the connection events to the configured domain events.
func watchedEvents(cfg *clientConfig) []string {
	names := []string{events.SystemAuthenticated, events.SystemAuthError, events.SystemDisconnect, events.SystemConnectError, events.SystemError}
	if len(cfg.Events) > 0 {
		return append(names, cfg.Events...)
	}
	for _, k := range events.DomainKinds {
		names = append(names, string(k))
	}
	return names
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.floor-client.yaml)")

	policy := session.DefaultPolicy()
	rootCmd.PersistentFlags().String("url", "ws://localhost:8084/ws", "router websocket URL")
	rootCmd.PersistentFlags().String("credentials", defaultCredentialsPath(), "credentials file written by login")
	rootCmd.PersistentFlags().String("user", "", "user id, overrides the credentials file")
	rootCmd.PersistentFlags().String("role", "", "role to authenticate as")
	rootCmd.PersistentFlags().String("token", "", "bearer token")
	rootCmd.PersistentFlags().Duration("auth-timeout", 10*time.Second, "time to wait for the authenticated reply")
	rootCmd.PersistentFlags().Duration("reconnect-base", policy.Base, "first reconnect delay")
	rootCmd.PersistentFlags().Duration("reconnect-cap", policy.Cap, "longest reconnect delay")
	rootCmd.PersistentFlags().Int("max-attempts", policy.MaxAttempts, "give up after this many failed attempts")
	rootCmd.PersistentFlags().Int("notify-after", policy.NotifyAfter, "report connection errors from this attempt on")
	rootCmd.Flags().StringSlice("events", nil, "event names to print (default: every order event)")

	viper.BindPFlags(rootCmd.PersistentFlags())
	viper.BindPFlags(rootCmd.Flags())

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
