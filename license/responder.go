package license

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/entitlement"
	"github.com/alwitt/keygate/keystore"
	"github.com/alwitt/keygate/kms"
	"github.com/alwitt/keygate/models"
	"github.com/alwitt/keygate/ratelimit"
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// Request coordinates of one key delivery request
type Request struct {
	// Email authenticated identity
	Email string
	// ClientIP rate limit fallback key when identity is empty
	ClientIP string
	// CourseCode course code
	CourseCode string
	// VideoRef canonical video ID or storage path slug
	VideoRef string
}

// limitKey rate limit bucket key of the request
func (r Request) limitKey() string {
	if r.Email != "" {
		return r.Email
	}
	return r.ClientIP
}

/*
Responder issues ClearKey licenses and raw AES-128 keys.

Both operations share the same rate-limit, entitlement, and audit scaffolding.
Plaintext key material passes through memory only; it never reaches logs or
the audit trail.
*/
type Responder interface {
	/*
		ClearKeyLicense issue a multi-key ClearKey JSON license

			@param ctx context.Context - execution context
			@param request Request - request coordinates
			@param body []byte - raw license request body
			@returns the license
	*/
	ClearKeyLicense(ctx context.Context, request Request, body []byte) (models.ClearKeyResponse, error)

	/*
		RawAESKey issue the single raw AES-128 key of a video

			@param ctx context.Context - execution context
			@param request Request - request coordinates
			@returns exactly 16 key bytes
	*/
	RawAESKey(ctx context.Context, request Request) ([]byte, error)
}

// responderImpl implements Responder
type responderImpl struct {
	goutils.Component

	persistence db.Client
	checker     entitlement.Checker
	keys        *keystore.Chain
	unwrapper   kms.Unwrapper
	limiter     ratelimit.Limiter
}

/*
NewResponder define a new license responder

	@param persistence db.Client - persistence layer client, used for audit events
	@param checker entitlement.Checker - entitlement checker
	@param keys *keystore.Chain - keystore lookup chain
	@param unwrapper kms.Unwrapper - content key unwrapper
	@param limiter ratelimit.Limiter - best-effort rate limiter, may be nil
	@returns responder instance
*/
func NewResponder(
	persistence db.Client,
	checker entitlement.Checker,
	keys *keystore.Chain,
	unwrapper kms.Unwrapper,
	limiter ratelimit.Limiter,
) (Responder, error) {
	if checker == nil || keys == nil || unwrapper == nil {
		return nil, fmt.Errorf("responder missing a required collaborator")
	}

	logTags := log.Fields{"module": "license", "component": "responder"}

	return &responderImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		checker:     checker,
		keys:        keys,
		unwrapper:   unwrapper,
		limiter:     limiter,
	}, nil
}

// enforceLimit apply the rate limit, failing open on limiter backend errors
func (r *responderImpl) enforceLimit(ctx context.Context, request Request) error {
	if r.limiter == nil {
		return nil
	}
	allowed, err := r.limiter.Allow(ctx, request.limitKey())
	if err != nil {
		// Limiter backend outage must not block playback
		log.WithError(err).WithFields(r.LogTags).Warn("Rate limiter unreachable, failing open")
		return nil
	}
	if !allowed {
		return fmt.Errorf("'%s' over rate limit: %w", request.limitKey(), models.ErrTooManyRequests)
	}
	return nil
}

// audit record a delivery event; failures are logged and swallowed so a
// broken audit trail cannot take down key delivery
func (r *responderImpl) audit(
	ctx context.Context,
	eventType models.DeliveryEventTypeENUMType,
	request Request,
	reason string,
) {
	if r.persistence == nil {
		return
	}
	err := r.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		_, err := dbClient.RecordDeliveryEvent(dbCtx, eventType, models.DeliveryEventMetadata{
			Email:      request.Email,
			CourseCode: request.CourseCode,
			VideoID:    request.VideoRef,
			Reason:     reason,
		})
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Warn("Failed to record delivery audit event")
	}
}

/*
ClearKeyLicense issue a multi-key ClearKey JSON license

	@param ctx context.Context - execution context
	@param request Request - request coordinates
	@param body []byte - raw license request body
	@returns the license
*/
func (r *responderImpl) ClearKeyLicense(
	ctx context.Context, request Request, body []byte,
) (models.ClearKeyResponse, error) {
	startedAt := time.Now()
	logTags := log.Fields{
		"email": request.Email, "course": request.CourseCode, "video": request.VideoRef,
	}

	if err := r.enforceLimit(ctx, request); err != nil {
		return models.ClearKeyResponse{}, err
	}

	grant, err := r.checker.Authorize(ctx, request.Email, request.CourseCode, request.VideoRef)
	if err != nil {
		r.audit(ctx, models.DeliveryEventTypeLicenseDenied, request, "entitlement")
		return models.ClearKeyResponse{}, err
	}

	kids, err := ExtractKeyIDs(body)
	if err != nil {
		r.audit(ctx, models.DeliveryEventTypeLicenseDenied, request, "malformed request")
		return models.ClearKeyResponse{}, err
	}

	// Per-KID lookup and unwrap run concurrently; the response array keeps
	// the extracted order regardless of completion order. One failed KID
	// fails the whole license; partial licenses are never issued.
	entries := make([]models.ClearKeyResponseEntry, len(kids))
	group, groupCtx := errgroup.WithContext(ctx)
	for idx, kid := range kids {
		idx, kid := idx, kid
		group.Go(func() error {
			kidHex := hex.EncodeToString(kid)
			ciphertext, err := r.keys.KeyCiphertext(groupCtx, grant.Video.ID, kidHex)
			if err != nil {
				return fmt.Errorf("KID %s lookup failed [%w]", kidHex, err)
			}
			plaintext, err := r.unwrapper.Unwrap(groupCtx, ciphertext)
			if err != nil {
				return fmt.Errorf("KID %s unwrap failed [%w]", kidHex, err)
			}
			entries[idx] = models.ClearKeyResponseEntry{
				KeyType: "oct",
				KeyID:   base64.RawURLEncoding.EncodeToString(kid),
				Key:     base64.RawURLEncoding.EncodeToString(plaintext),
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		r.audit(ctx, models.DeliveryEventTypeLicenseDenied, request, "key resolution")
		return models.ClearKeyResponse{}, err
	}

	r.audit(ctx, models.DeliveryEventTypeLicenseGranted, request, "")
	log.WithFields(r.LogTags).WithFields(logTags).
		WithField("latency", time.Since(startedAt).String()).
		WithField("keys", len(entries)).
		Info("License granted")

	return models.ClearKeyResponse{Keys: entries}, nil
}

/*
RawAESKey issue the single raw AES-128 key of a video

	@param ctx context.Context - execution context
	@param request Request - request coordinates
	@returns exactly 16 key bytes
*/
func (r *responderImpl) RawAESKey(ctx context.Context, request Request) ([]byte, error) {
	startedAt := time.Now()
	logTags := log.Fields{
		"email": request.Email, "course": request.CourseCode, "video": request.VideoRef,
	}

	if err := r.enforceLimit(ctx, request); err != nil {
		return nil, err
	}

	grant, err := r.checker.Authorize(ctx, request.Email, request.CourseCode, request.VideoRef)
	if err != nil {
		r.audit(ctx, models.DeliveryEventTypeAESKeyDenied, request, "entitlement")
		return nil, err
	}

	ciphertext, err := r.keys.AESKeyCiphertext(ctx, grant.Course.Code, grant.Video.ID)
	if err != nil {
		r.audit(ctx, models.DeliveryEventTypeAESKeyDenied, request, "key resolution")
		return nil, err
	}

	plaintext, err := r.unwrapper.Unwrap(ctx, ciphertext)
	if err != nil {
		r.audit(ctx, models.DeliveryEventTypeAESKeyDenied, request, "unwrap")
		return nil, err
	}
	if len(plaintext) != keyIDLen {
		r.audit(ctx, models.DeliveryEventTypeAESKeyDenied, request, "invalid key size")
		return nil, fmt.Errorf(
			"unwrapped key is %d bytes, expected %d: %w", len(plaintext), keyIDLen,
			models.ErrUnwrapFailure,
		)
	}

	r.audit(ctx, models.DeliveryEventTypeAESKeyGranted, request, "")
	log.WithFields(r.LogTags).WithFields(logTags).
		WithField("latency", time.Since(startedAt).String()).
		Info("HLS AES key granted")

	return plaintext, nil
}
