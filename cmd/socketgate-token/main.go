// Command socketgate-token mints bearer tokens for local testing
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/platinummonkey/socketgate/pkg/auth"
)

func main() {
	fs := pflag.NewFlagSet("socketgate-token", pflag.ExitOnError)
	subject := fs.StringP("subject", "s", "", "User ID the token is issued for (required)")
	email := fs.StringP("email", "e", "", "Email claim")
	role := fs.StringP("role", "r", string(auth.RoleStaff), "Role claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	issuer := fs.String("issuer", envOr("SOCKETGATE_JWT_ISSUER", "socketgate"), "Issuer claim")
	secret := fs.String("secret", os.Getenv("SOCKETGATE_JWT_SECRET"), "HMAC secret (default: SOCKETGATE_JWT_SECRET)")
	_ = fs.Parse(os.Args[1:])

	if err := mint(os.Stdout, *secret, *issuer, *subject, *email, auth.Role(*role), *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "socketgate-token: %v\n", err)
		os.Exit(1)
	}
}

func mint(out io.Writer, secret, issuer, subject, email string, role auth.Role, ttl time.Duration) error {
	if subject == "" {
		return errors.New("--subject is required")
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	verifier, err := auth.NewTokenVerifier(secret, issuer, 0)
	if err != nil {
		return err
	}
	token, err := verifier.Issue(subject, email, role, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
