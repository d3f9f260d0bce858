// Command zrc is the entry point for zrc's server-side collaborators
// (directory, mailbox, relay) and the identity/certificate/audit tooling
// an operator needs to stand up and maintain a deployment. It does not
// implement the host agent's screen capture, input injection, or any
// other platform-specific adapter: those stay behind narrow Go
// interfaces so the core protocol remains testable in isolation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overwritten at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zrc",
		Short:         "zrc secure remote-control core",
		Long:          "zrc provides the pairing, session, and transport core of a secure remote-control system, plus the directory, mailbox, and relay servers that support it.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddGroup(
		&cobra.Group{ID: "identity", Title: "Identity commands:"},
		&cobra.Group{ID: "serve", Title: "Server commands:"},
		&cobra.Group{ID: "admin", Title: "Administration commands:"},
	)

	identity := newIdentityCmd()
	identity.GroupID = "identity"
	root.AddCommand(identity)

	directory := newServeDirectoryCmd()
	directory.GroupID = "serve"
	root.AddCommand(directory)

	mailbox := newServeMailboxCmd()
	mailbox.GroupID = "serve"
	root.AddCommand(mailbox)

	relay := newServeRelayCmd()
	relay.GroupID = "serve"
	root.AddCommand(relay)

	cert := newCertCmd()
	cert.GroupID = "admin"
	root.AddCommand(cert)

	audit := newAuditCmd()
	audit.GroupID = "admin"
	root.AddCommand(audit)

	return root
}
