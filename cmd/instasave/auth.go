package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"instasave/pkg/auth"
	"instasave/pkg/instagram"
	"instasave/pkg/logger"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Instagram credentials",
	Long: `Manage the credentials used to log in to Instagram.

A scrape tries, in order:
  - the saved session file
  - the session id file
  - the session id from the environment (IG_SESSIONID)
  - username and password (IG_USERNAME, with the password from IG_PASSWORD
    or the system keychain)`,
}

// testCmd represents the auth test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Try to log in with the configured credentials",
	Args:  cobra.NoArgs,
	RunE:  runAuthTest,
}

// setPasswordCmd represents the auth set-password command
var setPasswordCmd = &cobra.Command{
	Use:   "set-password [username]",
	Short: "Store an account password in the system keychain",
	Long: `Store the password of an Instagram account in the system keychain so it
does not have to be kept in the config file or environment.`,
	Example: `  instasave auth set-password myusername`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runSetPassword,
}

// setSessionCmd represents the auth set-session command
var setSessionCmd = &cobra.Command{
	Use:   "set-session [sessionid]",
	Short: "Save a sessionid cookie for the next login",
	Long: `Save the value of the sessionid cookie from a logged in browser. It is
used on the next scrape when no valid session file exists.

To get the value:
1. Log into Instagram in your browser
2. Open Developer Tools (F12)
3. Go to Application/Storage > Cookies
4. Copy the sessionid value`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSetSession,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(testCmd)
	authCmd.AddCommand(setPasswordCmd)
	authCmd.AddCommand(setSessionCmd)
}

func newCascade() (*auth.Cascade, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	log := logger.GetLogger()
	return auth.NewCascade(cfg, auth.NewKeyringStore(), func() auth.Session {
		return instagram.NewClientFromConfig(cfg, log)
	}, log), nil
}

func runAuthTest(cmd *cobra.Command, args []string) error {
	cascade, err := newCascade()
	if err != nil {
		return err
	}

	res := cascade.TestLogin(context.Background())
	if !res.OK {
		return fmt.Errorf("login failed: %s", res.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (method: %s)\n", res.Username, res.Method)
	return nil
}

func runSetPassword(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	username := cfg.Instagram.Username
	if len(args) > 0 {
		username = strings.TrimSpace(args[0])
	}
	if username == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Instagram username: ")
		input, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(input)
	}
	if username == "" {
		return errors.New("username is required")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Password for %s: ", username)
	password, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return errors.New("password is required")
	}

	if err := auth.NewKeyringStore().Set(username, password); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password for %s stored in the system keychain\n", username)
	return nil
}

func runSetSession(cmd *cobra.Command, args []string) error {
	cascade, err := newCascade()
	if err != nil {
		return err
	}

	var sessionID string
	if len(args) > 0 {
		sessionID = args[0]
	} else {
		fmt.Fprint(cmd.OutOrStdout(), "sessionid cookie value: ")
		if sessionID, err = readPassword(); err != nil {
			return fmt.Errorf("failed to read session id: %w", err)
		}
	}

	path, err := cascade.SaveSessionID(sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session id saved to %s\n", path)
	return nil
}

// readPassword reads a secret from stdin without echoing
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
