package modules

import (
	"strings"

	"fabtrack.io/tracker/internal/api/handlers"
	"fabtrack.io/tracker/internal/api/middleware"
	"fabtrack.io/tracker/internal/config"
)

// ServerDepsContributor is implemented by modules that own handler deps.
type ServerDepsContributor interface {
	ContributeServerDeps(*handlers.ServerDeps)
}

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{Pools: infra.Pools}
	if infra.DB != nil {
		deps.DB = infra.DB
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		contributor, ok := mod.(ServerDepsContributor)
		if !ok {
			continue
		}
		contributor.ContributeServerDeps(&deps)
	}
	return deps
}

// JWTConfigFrom builds the token settings shared by the REST API, the
// socket upgrade and cmd/tokengen.
func JWTConfigFrom(cfg config.SecurityConfig) middleware.JWTConfig {
	verificationKeys := make([][]byte, 0, len(cfg.JWTVerificationKeys))
	for _, key := range cfg.JWTVerificationKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		verificationKeys = append(verificationKeys, []byte(key))
	}
	return middleware.JWTConfig{
		SigningKey:       []byte(cfg.JWTSigningKey),
		VerificationKeys: verificationKeys,
		Issuer:           cfg.JWTIssuer,
		ExpiresIn:        cfg.JWTExpiresIn,
	}
}
