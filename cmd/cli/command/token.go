package command

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	admin "ptzserver/internal/microservices/admin-api"
)

var (
	tokenSecret  string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage admin API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an admin token signed with the server secret",
	Long: `Sign an admin token with the same secret the server reads from
ADMIN_JWT_SECRET. Export it as PTZ_ADMIN_TOKEN or pass it with --token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return errors.New("a secret is required (--secret or ADMIN_JWT_SECRET)")
		}
		signed, err := admin.NewTokenService(tokenSecret).IssueToken(tokenSubject, admin.RoleAdmin, tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(signed)
		return nil
	},
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := admin.HashPassword(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("ADMIN_JWT_SECRET"), "signing secret")
	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "token subject")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenHashCmd)
}
