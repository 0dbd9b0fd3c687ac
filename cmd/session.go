package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"vic_tracker/internal/app"
	"vic_tracker/internal/session"
)

func init() {
	sessionCmd.AddCommand(sessionHealthCmd, sessionImportCmd, sessionVerifyCmd)
	rootCmd.AddCommand(sessionCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspects and refreshes the stored login session.",
}

var sessionHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Prints the stored session's cookies and their expiry. No network access.",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := session.NewStore(cfg.Session.Dir).Health(time.Now())
		if err != nil {
			return err
		}
		renderHealth(os.Stdout, h)
		if h.Status != session.StatusValid {
			return eris.Errorf("session is %s", h.Status)
		}
		return nil
	},
}

var sessionImportCmd = &cobra.Command{
	Use:   "import <cookies.json>",
	Short: "Replaces the stored session with exported browser cookies and verifies it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		cookies, err := session.ParseCookies(data)
		if err != nil {
			return err
		}

		store := session.NewStore(cfg.Session.Dir)
		if err := store.Replace(cookies); err != nil {
			return err
		}
		fmt.Printf("imported %d cookies into %s\n", len(cookies), store.Dir())
		return verify(cmd, store)
	},
}

var sessionVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Loads the reference page with the stored session and classifies it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := session.NewStore(cfg.Session.Dir)
		if !store.HasStoredSession() {
			return app.ErrNoSession
		}
		return verify(cmd, store)
	},
}

func verify(cmd *cobra.Command, store *session.Store) error {
	state, err := app.NewAuthenticator(cfg, store, log).Verify(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("session state: %s\n", state)
	if state != session.LoggedIn {
		return eris.Errorf("session is not logged in (%s); export fresh cookies after logging in", state)
	}
	return nil
}
