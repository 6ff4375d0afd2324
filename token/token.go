// Package token - short-lived playback token issuance and verification
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/entitlement"
	"github.com/alwitt/keygate/models"
	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultLifetime how long an issued playback token stays valid
const defaultLifetime = time.Minute * 5

// Claims the payload of a playback token, binding one identity to one video
type Claims struct {
	// Email authenticated identity
	Email string `json:"email"`
	// CourseCode course code
	CourseCode string `json:"course"`
	// VideoID canonical video ID
	VideoID string `json:"video"`
	jwt.RegisteredClaims
}

/*
Issuer mints and verifies playback tokens.

A token authorizes exactly one (identity, course, video) triple for a few
minutes. Single-use enforcement via the jti replay store is a policy switch;
it defaults off to match player behavior of re-fetching manifests mid-session.
*/
type Issuer interface {
	/*
		Issue mint a playback token after an entitlement check

			@param ctx context.Context - execution context
			@param email string - authenticated identity
			@param courseCode string - course code
			@param videoRef string - canonical video ID or storage path slug
			@returns signed token string
	*/
	Issue(ctx context.Context, email, courseCode, videoRef string) (string, error)

	/*
		Verify validate a playback token and return its claims

			@param ctx context.Context - execution context
			@param signed string - signed token string
			@returns verified claims
	*/
	Verify(ctx context.Context, signed string) (Claims, error)
}

// issuerImpl implements Issuer
type issuerImpl struct {
	goutils.Component

	persistence      db.Client
	checker          entitlement.Checker
	replays          ReplayStore
	signingKey       []byte
	lifetime         time.Duration
	enforceSingleUse bool
}

// IssuerConfig playback token issuer parameters
type IssuerConfig struct {
	// SigningKey HS256 signing secret
	SigningKey []byte
	// Lifetime token validity window, defaults to five minutes
	Lifetime time.Duration
	// EnforceSingleUse whether a token is consumed on first verification
	EnforceSingleUse bool
}

/*
NewIssuer define a new playback token issuer

	@param persistence db.Client - persistence layer client, used for audit events
	@param checker entitlement.Checker - entitlement checker
	@param replays ReplayStore - jti replay store
	@param config IssuerConfig - issuer parameters
	@returns issuer instance
*/
func NewIssuer(
	persistence db.Client,
	checker entitlement.Checker,
	replays ReplayStore,
	config IssuerConfig,
) (Issuer, error) {
	if len(config.SigningKey) == 0 {
		return nil, fmt.Errorf("no token signing key provided")
	}
	if checker == nil || replays == nil {
		return nil, fmt.Errorf("token issuer missing a required collaborator")
	}
	if config.Lifetime <= 0 {
		config.Lifetime = defaultLifetime
	}

	logTags := log.Fields{"module": "token", "component": "issuer"}

	return &issuerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence:      persistence,
		checker:          checker,
		replays:          replays,
		signingKey:       config.SigningKey,
		lifetime:         config.Lifetime,
		enforceSingleUse: config.EnforceSingleUse,
	}, nil
}

/*
Issue mint a playback token after an entitlement check

	@param ctx context.Context - execution context
	@param email string - authenticated identity
	@param courseCode string - course code
	@param videoRef string - canonical video ID or storage path slug
	@returns signed token string
*/
func (i *issuerImpl) Issue(
	ctx context.Context, email, courseCode, videoRef string,
) (string, error) {
	grant, err := i.checker.Authorize(ctx, email, courseCode, videoRef)
	if err != nil {
		return "", err
	}

	now := time.Now()
	jti := uuid.NewString()
	claims := Claims{
		Email:      email,
		CourseCode: grant.Course.Code,
		VideoID:    grant.Video.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("token signing failed [%w]: %w", err, models.ErrInternal)
	}

	if err := i.replays.Remember(ctx, jti, i.lifetime); err != nil {
		// Replay bookkeeping is best effort; the token itself is still valid
		log.WithError(err).WithFields(i.LogTags).Warn("Failed to record token jti")
	}

	i.audit(ctx, email, grant.Course.Code, grant.Video.ID)
	log.WithFields(i.LogTags).
		WithField("email", email).
		WithField("course", grant.Course.Code).
		WithField("video", grant.Video.ID).
		Info("Playback token issued")

	return signed, nil
}

/*
Verify validate a playback token and return its claims

	@param ctx context.Context - execution context
	@param signed string - signed token string
	@returns verified claims
*/
func (i *issuerImpl) Verify(ctx context.Context, signed string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(
		signed,
		&claims,
		func(*jwt.Token) (interface{}, error) { return i.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("playback token rejected [%w]: %w", err, models.ErrUnauthorized)
	}

	if i.enforceSingleUse {
		fresh, err := i.replays.Consume(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("token replay check failed [%w]: %w", err, models.ErrInternal)
		}
		if !fresh {
			return Claims{}, fmt.Errorf("playback token already used: %w", models.ErrUnauthorized)
		}
	}

	return claims, nil
}

// audit record a token issuance event, log-and-continue on failure
func (i *issuerImpl) audit(ctx context.Context, email, courseCode, videoID string) {
	if i.persistence == nil {
		return
	}
	err := i.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		_, err := dbClient.RecordDeliveryEvent(
			dbCtx, models.DeliveryEventTypePlaybackTokenIssued, models.DeliveryEventMetadata{
				Email: email, CourseCode: courseCode, VideoID: videoID,
			},
		)
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(i.LogTags).Warn("Failed to record delivery audit event")
	}
}
