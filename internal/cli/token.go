package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

// mintToken signs an HS256 session token.
func mintToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth.jwt_secret is required (set TAILORBOARD_AUTH_JWT_SECRET or config file)")
	}
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func tokenCmd(cfgPath *string) *cobra.Command {
	var subject string
	var ttl time.Duration
	var write bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token (writing it to auth.token_file signs the watcher in)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadClient(*cfgPath)
			if err != nil {
				return err
			}
			tok, err := mintToken(cfg.Auth.JWTSecret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			if !write {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
				return err
			}
			if cfg.Auth.TokenFile == "" {
				return fmt.Errorf("--write needs auth.token_file")
			}
			// Rename so the watcher never sees a half-written file.
			tmp := filepath.Join(filepath.Dir(cfg.Auth.TokenFile), "."+filepath.Base(cfg.Auth.TokenFile)+".tmp")
			if err := os.WriteFile(tmp, []byte(tok+"\n"), 0o600); err != nil {
				return fmt.Errorf("write token: %w", err)
			}
			if err := os.Rename(tmp, cfg.Auth.TokenFile); err != nil {
				return fmt.Errorf("write token: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", subject, cfg.Auth.TokenFile)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "front-desk", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 for none)")
	cmd.Flags().BoolVar(&write, "write", false, "write the token to auth.token_file")
	return cmd
}
