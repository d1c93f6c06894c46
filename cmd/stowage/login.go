package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long:  `Login stores the session for future commands. Expired sessions are refreshed automatically.`,
	Example: `  stowage login --email user@example.com
  STOWAGE_AUTH_EMAIL=user@example.com stowage login`,
	RunE: runLogin,
}

var signupCmd = &cobra.Command{
	Use:     "signup",
	Short:   "Create an account",
	Example: `  stowage signup --email user@example.com`,
	RunE:    runSignup,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var (
	loginEmail    string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd)

	for _, cmd := range []*cobra.Command{loginCmd, signupCmd} {
		cmd.Flags().StringVarP(&loginEmail, "email", "e", "",
			"Email address (defaults to auth.email)")
		cmd.Flags().StringVarP(&loginPassword, "password", "p", "",
			"Password (will prompt if not provided)")
	}
}

// credentials fills in the email from config and prompts for a missing
// password.
func credentials() (string, string, error) {
	email := loginEmail
	if email == "" {
		email = cfg.Auth.Email
	}
	if email == "" {
		return "", "", errors.New("email is required (--email or auth.email)")
	}

	password := loginPassword
	if password == "" {
		var err error
		password, err = promptPassword("Password: ")
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
	}
	return email, password, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, password, err := credentials()
	if err != nil {
		return err
	}

	session, err := apiClient.Auth.SignIn(cmd.Context(), email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	printResult(map[string]interface{}{
		"success":    true,
		"email":      session.User.Email,
		"user_id":    session.UserID(),
		"expires_at": session.ExpiresAt,
	}, func() {
		printSuccess("Signed in as %s", session.User.Email)
	})
	return nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	email, password, err := credentials()
	if err != nil {
		return err
	}

	session, err := apiClient.Auth.SignUp(cmd.Context(), email, password)
	if err != nil {
		return err
	}

	if session == nil {
		printResult(map[string]interface{}{
			"success":   true,
			"email":     email,
			"confirmed": false,
		}, func() {
			printInfo("Check %s for a confirmation link, then run 'stowage login'", email)
		})
		return nil
	}

	printResult(map[string]interface{}{
		"success":   true,
		"email":     email,
		"confirmed": true,
		"user_id":   session.UserID(),
	}, func() {
		printSuccess("Account created, signed in as %s", email)
	})
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := apiClient.Auth.SignOut(cmd.Context()); err != nil {
		return err
	}

	printResult(map[string]interface{}{"success": true}, func() {
		printSuccess("Signed out")
	})
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	session, err := apiClient.Auth.EnsureAuthenticated(cmd.Context())
	if err != nil {
		return err
	}

	printResult(map[string]interface{}{
		"email":      session.User.Email,
		"user_id":    session.UserID(),
		"expires_at": session.ExpiresAt,
	}, func() {
		printInfo("%s (%s)", session.User.Email, session.UserID())
		printInfo("Session expires %s", formatTime(session.ExpiresAt))
	})
	return nil
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt on; pass --password")
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}

	return string(password), nil
}
