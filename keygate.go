// Package keygate - DRM license and key delivery for course video
package keygate

import (
	"fmt"
	"time"

	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/entitlement"
	"github.com/alwitt/keygate/keystore"
	"github.com/alwitt/keygate/kms"
	"github.com/alwitt/keygate/license"
	"github.com/alwitt/keygate/playlist"
	"github.com/alwitt/keygate/ratelimit"
	"github.com/alwitt/keygate/token"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Service the assembled key delivery core
type Service struct {
	// Persistence persistence layer client
	Persistence db.Client
	// Checker entitlement checker
	Checker entitlement.Checker
	// Keys keystore lookup chain
	Keys *keystore.Chain
	// Responder license and raw key responder
	Responder license.Responder
	// Rewriter playlist rewriter
	Rewriter playlist.Rewriter
	// Tokens playback token issuer
	Tokens token.Issuer
}

// ServiceParams everything needed to assemble a Service
type ServiceParams struct {
	// DBDialector GORM dialector
	DBDialector gorm.Dialector
	// DBLogLevel SQL log level
	DBLogLevel logger.LogLevel
	// Unwrapper content key unwrapper
	Unwrapper kms.Unwrapper
	// Redis Redis client for rate limiting and token replay tracking.
	// Optional; without it the in-process fallbacks are used.
	Redis redis.UniversalClient
	// RateLimit max requests per identity per window
	RateLimit int64
	// RateWindow rate limit window length
	RateWindow time.Duration
	// KeystoreFile optional flat JSON keystore file, the last-resort source
	KeystoreFile string
	// AssetOrigin base URL playlists are fetched from
	AssetOrigin string
	// Endpoints same-origin URL prefixes embedded into rewritten playlists
	Endpoints playlist.Endpoints
	// TokenConfig playback token issuer parameters
	TokenConfig token.IssuerConfig
}

/*
NewService initialize the key delivery core.

Every collaborator is constructed once here and passed down; nothing holds
ambient global state.

	@param params ServiceParams - assembly parameters
	@returns assembled service
*/
func NewService(params ServiceParams) (*Service, error) {
	persistence, err := db.NewConnection(params.DBDialector, params.DBLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence client [%w]", err)
	}

	checker, err := entitlement.NewChecker(persistence)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize entitlement checker [%w]", err)
	}

	sources := []keystore.Source{
		keystore.NewRecordSource(persistence),
		keystore.NewBlobSource(persistence),
	}
	if params.KeystoreFile != "" {
		sources = append(sources, keystore.NewFileSource(params.KeystoreFile))
	}
	keys, err := keystore.NewChain(sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore chain [%w]", err)
	}

	var limiter ratelimit.Limiter
	if params.Redis != nil {
		limiter, err = ratelimit.NewRedisLimiter(params.Redis, params.RateLimit, params.RateWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiter [%w]", err)
		}
	} else {
		limiter = ratelimit.NewMemoryLimiter(params.RateLimit, params.RateWindow)
	}

	responder, err := license.NewResponder(persistence, checker, keys, params.Unwrapper, limiter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license responder [%w]", err)
	}

	rewriter, err := playlist.NewRewriter(
		persistence, checker, params.AssetOrigin, params.Endpoints,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playlist rewriter [%w]", err)
	}

	var replays token.ReplayStore
	if params.Redis != nil {
		replays, err = token.NewRedisReplayStore(params.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token replay store [%w]", err)
		}
	} else {
		replays = token.NewMemoryReplayStore()
	}
	tokens, err := token.NewIssuer(persistence, checker, replays, params.TokenConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playback token issuer [%w]", err)
	}

	return &Service{
		Persistence: persistence,
		Checker:     checker,
		Keys:        keys,
		Responder:   responder,
		Rewriter:    rewriter,
		Tokens:      tokens,
	}, nil
}
