// Package main issues a signed development token for the tracker API and
// realtime socket. The signing key comes from the same configuration the
// server loads, so SECURITY_JWT_SIGNING_KEY must be set for the token to
// survive a server restart.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"fabtrack.io/tracker/internal/api/middleware"
	"fabtrack.io/tracker/internal/app/modules"
	"fabtrack.io/tracker/internal/config"
	"fabtrack.io/tracker/internal/domain"
)

type options struct {
	userID   string
	username string
	role     string
	expires  time.Duration
	key      string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	jwtCfg, err := jwtConfig(opts)
	if err != nil {
		return err
	}
	identity, err := opts.identity()
	if err != nil {
		return err
	}

	token, expiresAt, err := middleware.GenerateToken(jwtCfg, identity)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Fprintln(out, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("tokengen", pflag.ContinueOnError)
	fs.StringVarP(&opts.userID, "user", "u", "", "user id carried in the token (required)")
	fs.StringVarP(&opts.username, "name", "n", "", "display name (defaults to the user id)")
	fs.StringVarP(&opts.role, "role", "r", string(domain.RoleViewer), "ADMIN, PM, WAREHOUSE or VIEWER")
	fs.DurationVar(&opts.expires, "expires", 0, "token lifetime (defaults to security.jwt_expires_in)")
	fs.StringVar(&opts.key, "key", "", "signing key (defaults to security.jwt_signing_key)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.userID == "" {
		return options{}, fmt.Errorf("--user is required")
	}
	return opts, nil
}

func (o options) identity() (domain.Identity, error) {
	role := domain.Role(o.role)
	if !role.Valid() {
		return domain.Identity{}, fmt.Errorf("unknown role %q", o.role)
	}
	name := o.username
	if name == "" {
		name = o.userID
	}
	return domain.Identity{UserID: o.userID, Username: name, Role: role}, nil
}

// jwtConfig loads the server's security settings. An explicit --key skips
// config loading, whose generated key would not match any server.
func jwtConfig(o options) (middleware.JWTConfig, error) {
	var sec config.SecurityConfig
	if o.key != "" {
		sec = config.SecurityConfig{JWTSigningKey: o.key, JWTIssuer: "fabtrack", JWTExpiresIn: 12 * time.Hour}
	} else {
		cfg, err := config.Load()
		if err != nil {
			return middleware.JWTConfig{}, fmt.Errorf("load config: %w", err)
		}
		sec = cfg.Security
	}
	if o.expires > 0 {
		sec.JWTExpiresIn = o.expires
	}
	return modules.JWTConfigFrom(sec), nil
}
