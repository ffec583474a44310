package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"legalchat-backend/middleware"

	"github.com/spf13/cobra"
)

// hashTokenCMD prints a bcrypt hash for ADMIN_TOKEN_HASH. Without --token a
// random token is generated and printed once.
func hashTokenCMD() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "hash-token",
		Short: "Hash an admin token for ADMIN_TOKEN_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if token == "" {
				generated, err := randomToken()
				if err != nil {
					return fmt.Errorf("generate token: %w", err)
				}
				token = generated
				fmt.Fprintf(out, "Generated admin token: %s\n", token)
				fmt.Fprintln(out, "Store it now, it is not shown again.")
			}

			hash, err := middleware.HashToken(token)
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			fmt.Fprintf(out, "ADMIN_TOKEN_HASH=%s\n", hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "admin token to hash (random when empty)")

	return cmd
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
