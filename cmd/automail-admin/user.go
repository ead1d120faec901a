package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/sixtypay/automail/internal/config"
	"github.com/sixtypay/automail/internal/session"
	"github.com/sixtypay/automail/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	RunE:  runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE:  runUserList,
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete [email]",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDelete,
}

var userResetPasswordCmd = &cobra.Command{
	Use:   "reset-password [email]",
	Short: "Reset user password",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserResetPassword,
}

var (
	userEmail    string
	userPassword string
	userName     string
	userAdmin    bool
)

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "User email")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "User password (will prompt if not provided)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "User name")
	userCreateCmd.Flags().BoolVar(&userAdmin, "admin", false, "Grant administrator privileges")
	userCreateCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userResetPasswordCmd)

	userCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/automail/admin.yaml", "Path to configuration file")
}

func openUserStore() (*store.DB, *session.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	database, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return database, session.NewStore(database, cfg.Auth.SessionTTL, logger), nil
}

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	pwBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()
	return string(pwBytes), nil
}

func promptNewPassword() (string, error) {
	password, err := promptPassword("Enter password")
	if err != nil {
		return "", err
	}
	confirm, err := promptPassword("Confirm password")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(password) < 10 {
		return "", fmt.Errorf("password must be at least 10 characters")
	}
	return password, nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	database, users, err := openUserStore()
	if err != nil {
		return err
	}
	defer database.Close()

	password := userPassword
	if password == "" {
		password, err = promptNewPassword()
		if err != nil {
			return err
		}
	} else if len(password) < 10 {
		return fmt.Errorf("password must be at least 10 characters")
	}

	u, err := users.CreateUser(userEmail, password, userName, userAdmin)
	if err != nil {
		if err == session.ErrUserExists {
			return fmt.Errorf("user with email %s already exists", userEmail)
		}
		return err
	}

	fmt.Printf("User %s created successfully (id %s)\n", u.Email, u.ID)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	database, users, err := openUserStore()
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := users.ListUsers()
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-30s  %-20s  %-5s  %s\n", "ID", "Email", "Name", "Admin", "Created")
	fmt.Println(strings.Repeat("-", 110))

	for _, u := range list {
		admin := ""
		if u.Admin {
			admin = "yes"
		}
		fmt.Printf("%-36s  %-30s  %-20s  %-5s  %s\n", u.ID, u.Email, u.Name, admin, u.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	email := args[0]

	database, users, err := openUserStore()
	if err != nil {
		return err
	}
	defer database.Close()

	// Confirm deletion
	fmt.Printf("Are you sure you want to delete user %s? [y/N]: ", email)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))

	if response != "y" && response != "yes" {
		fmt.Println("Cancelled")
		return nil
	}

	if err := users.DeleteUser(email); err != nil {
		if err == session.ErrNotFound {
			return fmt.Errorf("user %s not found", email)
		}
		return err
	}

	fmt.Printf("User %s deleted\n", email)
	return nil
}

func runUserResetPassword(cmd *cobra.Command, args []string) error {
	email := args[0]

	database, users, err := openUserStore()
	if err != nil {
		return err
	}
	defer database.Close()

	password, err := promptNewPassword()
	if err != nil {
		return err
	}

	if err := users.SetPassword(email, password); err != nil {
		if err == session.ErrNotFound {
			return fmt.Errorf("user %s not found", email)
		}
		return err
	}

	fmt.Printf("Password for %s updated successfully\n", email)
	return nil
}
