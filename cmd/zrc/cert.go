package main

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zrcore/zrc/internal/certutil"
)

func newCertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Generate and inspect TLS certificates for zrc daemons",
	}
	cmd.AddCommand(newCertCACmd())
	cmd.AddCommand(newCertServerCmd())
	cmd.AddCommand(newCertClientCmd())
	cmd.AddCommand(newCertInfoCmd())
	return cmd
}

func newCertCACmd() *cobra.Command {
	var (
		commonName string
		outDir     string
		validDays  int
	)

	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Generate a CA certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			validFor := time.Duration(validDays) * 24 * time.Hour
			ca, err := certutil.GenerateCA(commonName, validFor)
			if err != nil {
				return fmt.Errorf("generate CA: %w", err)
			}
			certPath := outDir + "/ca.crt"
			keyPath := outDir + "/ca.key"
			if err := ca.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("save CA: %w", err)
			}
			fmt.Printf("CA certificate: %s\n", certPath)
			fmt.Printf("CA key:         %s\n", keyPath)
			fmt.Printf("fingerprint:    %s\n", ca.Fingerprint())
			fmt.Printf("expires:        %s\n", ca.Certificate.NotAfter.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&commonName, "cn", "zrc relay CA", "Common name for the CA")
	cmd.Flags().StringVarP(&outDir, "out", "o", "./certs", "Output directory")
	cmd.Flags().IntVar(&validDays, "days", 3650, "Validity period in days")
	return cmd
}

func newCertServerCmd() *cobra.Command {
	var (
		commonName string
		outDir     string
		validDays  int
		caPath     string
		caKeyPath  string
		dnsNames   string
		ipAddrs    string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Generate a server certificate for a directory/mailbox/relay daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commonName == "" {
				return fmt.Errorf("common name is required")
			}
			ca, err := certutil.LoadCert(caPath, caKeyPath)
			if err != nil {
				return fmt.Errorf("load CA: %w", err)
			}

			opts := certutil.DefaultServerOptions(commonName)
			opts.ValidFor = time.Duration(validDays) * 24 * time.Hour
			if dnsNames != "" {
				opts.DNSNames = strings.Split(dnsNames, ",")
			}
			if ipAddrs != "" {
				for _, s := range strings.Split(ipAddrs, ",") {
					if ip := net.ParseIP(strings.TrimSpace(s)); ip != nil {
						opts.IPAddresses = append(opts.IPAddresses, ip)
					}
				}
			}
			opts.ParentCert = ca.Certificate
			opts.ParentKey = ca.PrivateKey

			cert, err := certutil.GenerateCert(opts)
			if err != nil {
				return fmt.Errorf("generate server cert: %w", err)
			}
			certPath := outDir + "/" + commonName + ".crt"
			keyPath := outDir + "/" + commonName + ".key"
			if err := cert.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("save server cert: %w", err)
			}
			fmt.Printf("certificate: %s\n", certPath)
			fmt.Printf("key:         %s\n", keyPath)
			fmt.Printf("fingerprint: %s\n", cert.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&commonName, "cn", "", "Common name for the certificate (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "./certs", "Output directory")
	cmd.Flags().IntVar(&validDays, "days", 365, "Validity period in days")
	cmd.Flags().StringVar(&caPath, "ca-cert", "./certs/ca.crt", "Path to the CA certificate")
	cmd.Flags().StringVar(&caKeyPath, "ca-key", "./certs/ca.key", "Path to the CA private key")
	cmd.Flags().StringVar(&dnsNames, "dns", "", "Comma-separated DNS SANs")
	cmd.Flags().StringVar(&ipAddrs, "ip", "", "Comma-separated IP SANs")
	return cmd
}

func newCertClientCmd() *cobra.Command {
	var (
		commonName string
		outDir     string
		validDays  int
		caPath     string
		caKeyPath  string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Generate a client certificate for an operator or host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commonName == "" {
				return fmt.Errorf("common name is required")
			}
			ca, err := certutil.LoadCert(caPath, caKeyPath)
			if err != nil {
				return fmt.Errorf("load CA: %w", err)
			}
			cert, err := certutil.GenerateClientCert(commonName, time.Duration(validDays)*24*time.Hour, ca)
			if err != nil {
				return fmt.Errorf("generate client cert: %w", err)
			}
			certPath := outDir + "/" + commonName + ".crt"
			keyPath := outDir + "/" + commonName + ".key"
			if err := cert.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("save client cert: %w", err)
			}
			fmt.Printf("certificate: %s\n", certPath)
			fmt.Printf("key:         %s\n", keyPath)
			fmt.Printf("fingerprint: %s\n", cert.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&commonName, "cn", "", "Common name for the certificate (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "./certs", "Output directory")
	cmd.Flags().IntVar(&validDays, "days", 365, "Validity period in days")
	cmd.Flags().StringVar(&caPath, "ca-cert", "./certs/ca.crt", "Path to the CA certificate")
	cmd.Flags().StringVar(&caKeyPath, "ca-key", "./certs/ca.key", "Path to the CA private key")
	return cmd
}

func newCertInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <cert-path>",
		Short: "Print certificate details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := certutil.GetCertInfoFromFile(args[0])
			if err != nil {
				return fmt.Errorf("read certificate: %w", err)
			}
			fmt.Printf("subject:     %s\n", info.Subject)
			fmt.Printf("issuer:      %s\n", info.Issuer)
			fmt.Printf("fingerprint: %s\n", info.Fingerprint)
			fmt.Printf("not before:  %s\n", info.NotBefore.Format(time.RFC3339))
			fmt.Printf("not after:   %s\n", info.NotAfter.Format(time.RFC3339))
			fmt.Printf("is CA:       %v\n", info.IsCA)
			return nil
		},
	}
	return cmd
}
