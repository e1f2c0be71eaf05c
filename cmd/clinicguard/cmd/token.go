package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/MrEthical07/clinicguard/permission"
	"github.com/spf13/cobra"
)

var (
	mintSubject string
	mintRole    string
	mintTenant  string
	mintSession string
	mintTTL     time.Duration
	mintIssuer  string
	mintAud     []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Token utilities for local testing",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Sign a bearer token with the configured HMAC key",
	Long: `mint signs an HS256 token with $CLINICGUARD_JWT_HMAC_SECRET. Issuer and
audience default to the first entries of the engine configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := permission.ParseRole(mintRole); err != nil {
			return err
		}
		key, ok, err := hmacKey()
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(envHMACSecret + " is not set")
		}

		cfg, err := loadEngineConfig()
		if err != nil {
			return err
		}
		issuer, aud := mintIssuer, mintAud
		if issuer == "" && len(cfg.Token.Issuers) > 0 {
			issuer = cfg.Token.Issuers[0]
		}
		if len(aud) == 0 && len(cfg.Token.Audiences) > 0 {
			aud = cfg.Token.Audiences[:1]
		}

		signer, err := jwt.NewSigner(key, issuer, aud, mintTTL)
		if err != nil {
			return err
		}
		tok, claims, err := signer.Sign(jwt.SignRequest{
			Subject:   mintSubject,
			Role:      mintRole,
			TenantID:  mintTenant,
			SessionID: mintSession,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		fmt.Fprintf(cmd.ErrOrStderr(), "jti=%s expires=%s\n", claims.TokenID, claims.ExpiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	f := tokenMintCmd.Flags()
	f.StringVar(&mintSubject, "subject", "", "token subject")
	f.StringVar(&mintRole, "role", "subject", "role claim")
	f.StringVar(&mintTenant, "tenant", "", "tenant (clinic) claim")
	f.StringVar(&mintSession, "session", "", "optional session id claim")
	f.DurationVar(&mintTTL, "ttl", 15*time.Minute, "token lifetime")
	f.StringVar(&mintIssuer, "issuer", "", "issuer claim")
	f.StringSliceVar(&mintAud, "audience", nil, "audience claim")
	_ = tokenMintCmd.MarkFlagRequired("subject")

	tokenCmd.AddCommand(tokenMintCmd)
}
