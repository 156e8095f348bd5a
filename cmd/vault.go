// File: cmd/vault.go

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pilot-cli/internal/vault"
)

// newVaultCmd groups the credential vault maintenance commands. The master
// password always comes from PILOT_VAULT_PASSWORD; it is never a flag, so it
// cannot leak into shell history or process listings.
func newVaultCmd() *cobra.Command {
	vaultCmd := &cobra.Command{
		Use:   "vault",
		Short: "Manages the encrypted credential vault",
	}
	vaultCmd.AddCommand(newVaultInitCmd())
	vaultCmd.AddCommand(newVaultAddCmd())
	vaultCmd.AddCommand(newVaultGetCmd())
	vaultCmd.AddCommand(newVaultListCmd())
	vaultCmd.AddCommand(newVaultRemoveCmd())
	return vaultCmd
}

func openVault() (*vault.Vault, error) {
	password := os.Getenv("PILOT_VAULT_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("PILOT_VAULT_PASSWORD is not set")
	}
	return vault.Open(cfg.Vault.File, password)
}

func newVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Creates a new empty vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := v.Create(); err != nil {
				return err
			}
			defer v.Lock()
			fmt.Println("Vault created.")
			return nil
		},
	}
}

func newVaultAddCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "add <service> <secret>",
		Short: "Stores a credential for a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := v.Unlock(); err != nil {
				return err
			}
			defer v.Lock()
			if _, err := v.AddCredential(args[0], username, args[1], nil); err != nil {
				return err
			}
			fmt.Printf("Stored credential for %s.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username or key identifier")
	return cmd
}

func newVaultGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <service>",
		Short: "Prints the stored secret for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := v.Unlock(); err != nil {
				return err
			}
			defer v.Lock()
			entry, err := v.GetCredential(args[0])
			if err != nil {
				return err
			}
			fmt.Println(entry.Password)
			return nil
		},
	}
}

func newVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists stored services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := v.Unlock(); err != nil {
				return err
			}
			defer v.Lock()
			services, err := v.ListServices()
			if err != nil {
				return err
			}
			if len(services) == 0 {
				fmt.Println("Vault is empty.")
				return nil
			}
			fmt.Println(strings.Join(services, "\n"))
			return nil
		},
	}
}

func newVaultRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <service>",
		Short: "Removes a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := v.Unlock(); err != nil {
				return err
			}
			defer v.Lock()
			if err := v.DeleteCredential(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed credential for %s.\n", args[0])
			return nil
		},
	}
}
