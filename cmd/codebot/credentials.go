package codebot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/audit"
	"github.com/igorsilveira/codebot/pkg/config"
	"github.com/igorsilveira/codebot/pkg/credentials"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage encrypted feed tokens",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <name> [value]",
	Short: "Store a credential; prompts for the value when omitted",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCredentialsSet,
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential names",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsList,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialsDelete,
}

var credentialsRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt stored credentials under a new master key",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsRotate,
}

func init() {
	credentialsCmd.AddCommand(credentialsSetCmd, credentialsListCmd, credentialsDeleteCmd, credentialsRotateCmd)
}

func withCredentials(fn func(ctx context.Context, creds *credentials.Store, auditLog *audit.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if os.Getenv(cfg.Credentials.MasterKeyEnv) == "" {
		return fmt.Errorf("%s must be set to use the credential store", cfg.Credentials.MasterKeyEnv)
	}
	if err := config.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, auditLog, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	creds, err := openCredentials(cfg, db)
	if err != nil {
		return err
	}
	return fn(context.Background(), creds, auditLog)
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Value for " + name).
				EchoMode(huh.EchoModePassword).
				Value(&value),
		)).Run()
		if err != nil {
			return err
		}
	}
	if value == "" {
		return errors.New("credential value must not be empty")
	}

	return withCredentials(func(ctx context.Context, creds *credentials.Store, auditLog *audit.Logger) error {
		if err := creds.Set(ctx, name, value); err != nil {
			return err
		}
		auditLog.Log(ctx, audit.EventCredSet, "", "", "cli", name)
		fmt.Printf("Stored %s\n", name)
		return nil
	})
}

func runCredentialsList(cmd *cobra.Command, args []string) error {
	return withCredentials(func(ctx context.Context, creds *credentials.Store, _ *audit.Logger) error {
		list, err := creds.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No credentials stored.")
			return nil
		}
		for _, c := range list {
			fmt.Printf("%-24s updated %s\n", c.Name, c.UpdatedAt.Local().Format(time.DateTime))
		}
		return nil
	})
}

func runCredentialsDelete(cmd *cobra.Command, args []string) error {
	return withCredentials(func(ctx context.Context, creds *credentials.Store, auditLog *audit.Logger) error {
		if err := creds.Delete(ctx, args[0]); err != nil {
			return err
		}
		auditLog.Log(ctx, audit.EventCredDel, "", "", "cli", args[0])
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	})
}

func runCredentialsRotate(cmd *cobra.Command, args []string) error {
	var newKey, confirm string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("New master key").EchoMode(huh.EchoModePassword).Value(&newKey),
		huh.NewInput().Title("Repeat new master key").EchoMode(huh.EchoModePassword).Value(&confirm),
	)).Run()
	if err != nil {
		return err
	}
	if newKey == "" || newKey != confirm {
		return errors.New("new master keys are empty or do not match")
	}

	return withCredentials(func(ctx context.Context, creds *credentials.Store, auditLog *audit.Logger) error {
		_, n, err := creds.Rotate(ctx, newKey)
		if err != nil {
			return err
		}
		auditLog.Log(ctx, audit.EventCredRotate, "", "", "cli", map[string]int{"count": n})
		fmt.Printf("Re-encrypted %d credential(s). Update the master key environment variable before the next start.\n", n)
		return nil
	})
}
