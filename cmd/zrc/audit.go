package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zrcore/zrc/internal/audit"
	"github.com/zrcore/zrc/internal/crypto"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify a zrc signed audit log",
	}
	cmd.AddCommand(newAuditVerifyCmd())
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	var signPubHex string

	cmd := &cobra.Command{
		Use:   "verify <log-path>",
		Short: "Verify every entry in an append-only audit log against its signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(signPubHex)
			if err != nil || len(raw) != crypto.Ed25519PublicKeySize {
				return fmt.Errorf("--sign-pub must be a %d-byte hex-encoded Ed25519 public key", crypto.Ed25519PublicKeySize)
			}
			var signPub [crypto.Ed25519PublicKeySize]byte
			copy(signPub[:], raw)

			entries, err := audit.ReadEntries(args[0])
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}

			bad := 0
			for i, e := range entries {
				if err := e.Verify(signPub); err != nil {
					fmt.Printf("entry %d (%s): INVALID: %v\n", i, e.ID, err)
					bad++
				}
			}
			fmt.Printf("%d entries checked, %d invalid\n", len(entries), bad)
			if bad > 0 {
				return fmt.Errorf("%d entries failed verification", bad)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&signPubHex, "sign-pub", "", "Hex-encoded Ed25519 public key the log was signed with (required)")
	cmd.MarkFlagRequired("sign-pub")
	return cmd
}
