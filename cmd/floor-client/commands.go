package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ms-restaurant/internal/auth"
	"ms-restaurant/internal/events"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/models"
	"ms-restaurant/internal/session"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials for later sessions",
	Long: `login writes --user, --role and --token to the credentials file.
With --secret a development HS256 token is minted instead of --token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.UserID == "" {
			return errors.New("--user is required")
		}
		role, ok := models.ParseRole(cfg.Role)
		if !ok {
			return fmt.Errorf("unknown role %q", cfg.Role)
		}

		token := cfg.Token
		if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err = auth.IssueToken(secret, cfg.UserID, role, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
		}

		store := session.FileCredentialStore{Path: cfg.Credentials}
		if err := store.Save(session.Credentials{UserID: cfg.UserID, Role: string(role), Token: token}); err != nil {
			return err
		}
		fmt.Printf("Saved credentials for %s (%s) to %s\n", cfg.UserID, role, cfg.Credentials)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return session.FileCredentialStore{Path: cfg.Credentials}.Clear()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status ORDER_ID NEW_STATUS PREVIOUS_STATUS",
	Short: "Announce a status change to the other connected actors",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		next, prev := models.Status(args[1]), models.Status(args[2])
		if !next.Valid() || !prev.Valid() {
			return fmt.Errorf("statuses must be one of %v", models.AllStatuses)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := logger.New(logger.Options{MinLevel: logger.WARN})
		if err != nil {
			return err
		}

		s := newSession(cfg, log)
		defer s.Disconnect()

		ready := make(chan error, 1)
		s.On(events.SystemAuthenticated, func(json.RawMessage) { notify(ready, nil) })
		s.On(events.SystemAuthError, func(data json.RawMessage) {
			notify(ready, fmt.Errorf("%w: %s", session.ErrAuthRejected, data))
		})
		s.On(events.SystemConnectError, func(data json.RawMessage) {
			notify(ready, fmt.Errorf("connect: %s", data))
		})
		s.Connect()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.AuthTimeout+time.Second)
		defer cancel()
		select {
		case err := <-ready:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return session.ErrAuthTimeout
		}

		if err := s.EmitOrderStatusChange(ctx, args[0], next, prev); err != nil {
			return err
		}
		fmt.Printf("Sent %s -> %s for order %s\n", prev, next, args[0])
		return nil
	},
}

func notify(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func init() {
	loginCmd.Flags().String("secret", "", "shared JWT secret for minting a development token")
	loginCmd.Flags().Duration("ttl", 12*time.Hour, "lifetime of a minted token")
}
