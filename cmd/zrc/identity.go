package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zrcore/zrc/internal/identity"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage a host or controller's long-lived keypair",
	}
	cmd.AddCommand(newIdentityInitCmd())
	cmd.AddCommand(newIdentityShowCmd())
	return cmd
}

func newIdentityInitCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an identity if one does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, created, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("load or create identity: %w", err)
			}
			if created {
				fmt.Printf("generated new identity in %s\n", dataDir)
			} else {
				fmt.Printf("identity already exists in %s\n", dataDir)
			}
			fmt.Printf("id:       %s\n", id.ID())
			fmt.Printf("sign_pub: %x\n", id.SignPub())
			fmt.Printf("kex_pub:  %x\n", id.KexPub())
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory to store the identity file in")
	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stable ID and public keys of an existing identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !identity.Exists(dataDir) {
				return fmt.Errorf("no identity found in %s (run 'zrc identity init' first)", dataDir)
			}
			id, err := identity.Load(dataDir)
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}
			fmt.Printf("id:       %s\n", id.ID())
			fmt.Printf("sign_pub: %x\n", id.SignPub())
			fmt.Printf("kex_pub:  %x\n", id.KexPub())
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory the identity file lives in")
	return cmd
}
