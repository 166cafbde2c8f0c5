package cli

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/taskflow-auth/internal/auth"
	"github.com/spec-kit/taskflow-auth/internal/config"
)

var genSecretBytes int

var genSecretCmd = &cobra.Command{
	Use:   "gen-secret",
	Short: "Print a random base64 signing key for AUTH_JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := generateSecret(genSecretBytes)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), secret)
		return err
	},
}

var hashPasswordCost int

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the bcrypt hash of a password (read from stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = line
		}
		password = strings.TrimSpace(password)
		if password == "" {
			return errors.New("password must not be empty")
		}

		hash, err := auth.HashPassword(password, hashPasswordCost)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
		return err
	},
}

func generateSecret(n int) (string, error) {
	if n < config.MinSecretBytes {
		return "", fmt.Errorf("secret must be at least %d bytes, got %d", config.MinSecretBytes, n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func init() {
	genSecretCmd.Flags().IntVar(&genSecretBytes, "bytes", config.MinSecretBytes, "number of random bytes")
	hashPasswordCmd.Flags().IntVar(&hashPasswordCost, "cost", 12, "bcrypt cost")
	rootCmd.AddCommand(genSecretCmd, hashPasswordCmd)
}
