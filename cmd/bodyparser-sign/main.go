package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/guided-traffic/bodyparser/pkg/bodyparser/verify"
)

var (
	rootCmd = &cobra.Command{
		Use:   "bodyparser-sign",
		Short: "Sign request bodies for bodyparser-server verify hooks",
	}

	signFlags struct {
		hmacSecret  string
		header      string
		jwtSecret   string
		privateKey  string
		subject     string
		ttl         time.Duration
		curlHeaders bool
	}

	signCmd = &cobra.Command{
		Use:   "sign [file]",
		Short: "Print signature headers for a body read from file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSign,
	}

	keygenFlags struct {
		dir  string
		bits int
	}

	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA key pair for RS256 body tokens",
		RunE:  runKeygen,
	}

	secretCmd = &cobra.Command{
		Use:   "secret",
		Short: "Generate a random secret for HMAC signatures or HS256 tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := verify.GenerateSecret(32)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
)

func init() {
	signCmd.Flags().StringVar(&signFlags.hmacSecret, "hmac-secret", "", "secret for the body signature header")
	signCmd.Flags().StringVar(&signFlags.header, "header", verify.DefaultSignatureHeader, "body signature header name")
	signCmd.Flags().StringVar(&signFlags.jwtSecret, "jwt-secret", "", "secret for an HS256 bearer token")
	signCmd.Flags().StringVar(&signFlags.privateKey, "private-key", "", "PEM file with the RSA key for an RS256 bearer token")
	signCmd.Flags().StringVar(&signFlags.subject, "subject", "", "token subject")
	signCmd.Flags().DurationVar(&signFlags.ttl, "ttl", 5*time.Minute, "token lifetime (0 disables expiry)")
	signCmd.Flags().BoolVar(&signFlags.curlHeaders, "curl", false, "print headers as curl -H arguments")

	keygenCmd.Flags().StringVar(&keygenFlags.dir, "dir", ".", "output directory")
	keygenCmd.Flags().IntVar(&keygenFlags.bits, "bits", 2048, "RSA key size")

	rootCmd.AddCommand(signCmd, keygenCmd, secretCmd)
}

func readBody(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	// #nosec G304 - path is supplied by the operator
	return os.ReadFile(args[0])
}

func runSign(cmd *cobra.Command, args []string) error {
	if signFlags.jwtSecret != "" && signFlags.privateKey != "" {
		return fmt.Errorf("--jwt-secret and --private-key are mutually exclusive")
	}
	if signFlags.hmacSecret == "" && signFlags.jwtSecret == "" && signFlags.privateKey == "" {
		return fmt.Errorf("one of --hmac-secret, --jwt-secret or --private-key is required")
	}

	body, err := readBody(args)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	out := cmd.OutOrStdout()
	printHeader := func(name, value string) {
		if signFlags.curlHeaders {
			fmt.Fprintf(out, "-H '%s: %s' ", name, value)
			return
		}
		fmt.Fprintf(out, "%s: %s\n", name, value)
	}

	if signFlags.hmacSecret != "" {
		v, err := verify.NewHMACVerifier(verify.HMACConfig{
			Secret: []byte(signFlags.hmacSecret),
			Header: signFlags.header,
		})
		if err != nil {
			return err
		}
		printHeader(v.Header(), v.Sign(body))
	}

	var key any
	switch {
	case signFlags.jwtSecret != "":
		key = []byte(signFlags.jwtSecret)
	case signFlags.privateKey != "":
		data, err := os.ReadFile(signFlags.privateKey)
		if err != nil {
			return fmt.Errorf("failed to read private key: %w", err)
		}
		if key, err = verify.ParsePrivateKey(data); err != nil {
			return err
		}
	}

	if key != nil {
		token, err := verify.SignToken(body, key, verify.TokenOptions{
			Subject: signFlags.subject,
			Issuer:  "bodyparser-sign",
			TTL:     signFlags.ttl,
		})
		if err != nil {
			return err
		}
		printHeader("Authorization", "Bearer "+token)
	}

	if signFlags.curlHeaders {
		fmt.Fprintln(out)
	}
	return nil
}

func runKeygen(cmd *cobra.Command, args []string) error {
	privatePEM, publicPEM, err := verify.GenerateKeyPair(keygenFlags.bits)
	if err != nil {
		return err
	}

	privatePath := filepath.Join(keygenFlags.dir, "body_signing_key.pem")
	publicPath := filepath.Join(keygenFlags.dir, "body_signing_key.pub.pem")

	if err := os.WriteFile(privatePath, privatePEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, publicPEM, 0644); err != nil { // #nosec G306 - public key
		return fmt.Errorf("failed to write public key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Private key: %s\n", privatePath)
	fmt.Fprintf(out, "Public key:  %s\n", publicPath)
	fmt.Fprintln(out, "\nConfigure the server with:")
	fmt.Fprintln(out, "verify:\n  jwt:\n    enabled: true\n    public_key_file: \""+publicPath+"\"")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
