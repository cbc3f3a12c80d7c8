/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/alpinegear/identity/internal/server"
	"github.com/alpinegear/identity/types"
	"github.com/spf13/cobra"
)

var (
	promoteEmail string
	promoteRole  string
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage accounts",
}

var accountsPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Change the role of an account",
	Long: `Sets the role of an existing account. Self-registration only creates
customers, so this is how the first admin is made:

	identity accounts promote --email ops@alpinegear.example`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := loadConfig()
		role := types.Role(promoteRole)
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", promoteRole)
		}

		c, err := server.Build(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer c.Close()

		profile, err := c.Auth.SetRole(cmd.Context(), promoteEmail, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", profile.Email, profile.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsPromoteCmd)
	accountsPromoteCmd.Flags().StringVar(&promoteEmail, "email", "", "email of the account")
	accountsPromoteCmd.Flags().StringVar(&promoteRole, "role", string(types.RoleAdmin), "role to grant (admin or customer)")
	_ = accountsPromoteCmd.MarkFlagRequired("email")
}
