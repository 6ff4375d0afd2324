package license_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/entitlement"
	"github.com/alwitt/keygate/keystore"
	"github.com/alwitt/keygate/kms"
	"github.com/alwitt/keygate/license"
	"github.com/alwitt/keygate/models"
	"github.com/alwitt/keygate/ratelimit"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// responderTestEnv shared scaffolding of the responder tests
type responderTestEnv struct {
	persistence db.Client
	user        models.User
	course      models.Course
	video       models.Video
}

// setupResponderTestEnv prepare a throwaway DB with one enrolled user
func setupResponderTestEnv(t *testing.T) responderTestEnv {
	assert := assert.New(t)
	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/keygate_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	env := responderTestEnv{persistence: persistence}
	err = persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			if env.user, err = dbClient.DefineUser(ctx, "alice@example.com", "Alice"); err != nil {
				return err
			}
			if env.course, err = dbClient.DefineCourse(ctx, "go-101", "Intro course"); err != nil {
				return err
			}
			if env.video, err = dbClient.DefineVideo(
				ctx, env.course, "vid-0001", "Lesson one", "lesson-one",
			); err != nil {
				return err
			}
			_, err = dbClient.DefineEnrollment(ctx, env.user, env.course)
			return err
		},
	)
	assert.Nil(err)
	return env
}

// TestResponderClearKeyLicense verifies multi-key ClearKey license issuance.
//
// The test performs the following steps:
//
//  1. Store per-KID ciphertexts in the JSON keystore blob for two key IDs.
//  2. Request a license for both KIDs; verify the response preserves the
//     request order and carries base64url unpadded key material.
//  3. Request a license including an unknown KID; the whole license fails
//     with KeyNotFound.
//  4. Request as a user without enrollment; denied with Forbidden.
func TestResponderClearKeyLicense(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	env := setupResponderTestEnv(t)

	kid1 := bytes.Repeat([]byte{0x01}, 16)
	kid2 := bytes.Repeat([]byte{0x02}, 16)
	key1 := bytes.Repeat([]byte{0xA1}, 16)
	key2 := bytes.Repeat([]byte{0xA2}, 16)

	// 1. Per-KID entries in the keystore blob
	blob, err := json.Marshal(map[string]models.KeystoreEntry{
		hex.EncodeToString(kid1): {Ciphertext: "wrapped-1"},
		hex.EncodeToString(kid2): {Ciphertext: "wrapped-2"},
	})
	assert.Nil(err)
	err = env.persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.SetVideoKeystore(ctx, env.video.ID, blob)
			return err
		},
	)
	assert.Nil(err)

	checker, err := entitlement.NewChecker(env.persistence)
	assert.Nil(err)
	keys, err := keystore.NewChain(
		keystore.NewRecordSource(env.persistence), keystore.NewBlobSource(env.persistence),
	)
	assert.Nil(err)
	unwrapper := &kms.StaticUnwrapper{Keys: map[string][]byte{
		"wrapped-1": key1, "wrapped-2": key2,
	}}

	uut, err := license.NewResponder(env.persistence, checker, keys, unwrapper, nil)
	assert.Nil(err)

	request := license.Request{
		Email: env.user.Email, CourseCode: env.course.Code, VideoRef: "lesson-one",
	}

	// 2. License covering both KIDs, order preserved
	body := []byte(`{"kids": ["` +
		base64.RawURLEncoding.EncodeToString(kid2) + `", "` +
		base64.RawURLEncoding.EncodeToString(kid1) + `"]}`)
	resp, err := uut.ClearKeyLicense(utCtx, request, body)
	assert.Nil(err)
	assert.Len(resp.Keys, 2)
	assert.Equal("oct", resp.Keys[0].KeyType)
	assert.Equal(base64.RawURLEncoding.EncodeToString(kid2), resp.Keys[0].KeyID)
	assert.Equal(base64.RawURLEncoding.EncodeToString(key2), resp.Keys[0].Key)
	assert.Equal(base64.RawURLEncoding.EncodeToString(kid1), resp.Keys[1].KeyID)
	assert.Equal(base64.RawURLEncoding.EncodeToString(key1), resp.Keys[1].Key)

	// 3. Unknown KID fails the whole license
	unknown := bytes.Repeat([]byte{0x0F}, 16)
	body = []byte(`{"kids": ["` +
		base64.RawURLEncoding.EncodeToString(kid1) + `", "` +
		base64.RawURLEncoding.EncodeToString(unknown) + `"]}`)
	_, err = uut.ClearKeyLicense(utCtx, request, body)
	assert.True(errors.Is(err, models.ErrKeyNotFound))

	// 4. Unenrolled identity is denied
	err = env.persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.DefineUser(ctx, "mallory@example.com", "Mallory")
			return err
		},
	)
	assert.Nil(err)
	denied := request
	denied.Email = "mallory@example.com"
	_, err = uut.ClearKeyLicense(utCtx, denied, body)
	assert.True(errors.Is(err, models.ErrForbidden))

	// Denials left an audit trail
	err = env.persistence.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListDeliveryEvents(ctx, db.DeliveryEventQueryFilter{
			EventTypes: []models.DeliveryEventTypeENUMType{models.DeliveryEventTypeLicenseDenied},
		})
		if err != nil {
			return err
		}
		assert.Len(events, 2)
		return nil
	})
	assert.Nil(err)
}

// TestResponderRawAESKey verifies raw AES-128 key issuance.
//
// The test performs the following steps:
//
//  1. Store the wrapped key in the typed per-video table.
//  2. Request the key; exactly 16 plaintext bytes come back.
//  3. Swap the static unwrapper result for a wrong-length key; the request
//     fails with UnwrapFailure.
//  4. Request a video with no stored ciphertext; KeyNotFound.
func TestResponderRawAESKey(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	env := setupResponderTestEnv(t)

	aesKey := bytes.Repeat([]byte{0x42}, 16)
	err := env.persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.SetVideoAESKey(ctx, env.course.Code, env.video.ID, "d3JhcHBlZC1hZXM=")
			return err
		},
	)
	assert.Nil(err)

	checker, err := entitlement.NewChecker(env.persistence)
	assert.Nil(err)
	keys, err := keystore.NewChain(
		keystore.NewRecordSource(env.persistence), keystore.NewBlobSource(env.persistence),
	)
	assert.Nil(err)
	unwrapper := &kms.StaticUnwrapper{Keys: map[string][]byte{"d3JhcHBlZC1hZXM=": aesKey}}

	uut, err := license.NewResponder(env.persistence, checker, keys, unwrapper, nil)
	assert.Nil(err)

	request := license.Request{
		Email: env.user.Email, CourseCode: env.course.Code, VideoRef: env.video.ID,
	}

	// 2. Happy path
	plaintext, err := uut.RawAESKey(utCtx, request)
	assert.Nil(err)
	assert.Equal(aesKey, plaintext)

	// 3. Wrong-length plaintext is rejected
	unwrapper.Keys["d3JhcHBlZC1hZXM="] = bytes.Repeat([]byte{0x42}, 24)
	_, err = uut.RawAESKey(utCtx, request)
	assert.True(errors.Is(err, models.ErrUnwrapFailure))

	// 4. No stored ciphertext
	err = env.persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.DefineVideo(ctx, env.course, "vid-0002", "Lesson two", "lesson-two")
			return err
		},
	)
	assert.Nil(err)
	missing := request
	missing.VideoRef = "vid-0002"
	_, err = uut.RawAESKey(utCtx, missing)
	assert.True(errors.Is(err, models.ErrKeyNotFound))
}

// TestResponderRateLimit verifies rate limiting on key delivery.
//
// The test performs the following steps:
//
//  1. Build a responder over a 2-requests-per-minute in-process limiter.
//  2. Two raw key requests succeed, the third trips TooManyRequests.
func TestResponderRateLimit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	env := setupResponderTestEnv(t)

	aesKey := bytes.Repeat([]byte{0x42}, 16)
	err := env.persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.SetVideoAESKey(ctx, env.course.Code, env.video.ID, "d3JhcHBlZC1hZXM=")
			return err
		},
	)
	assert.Nil(err)

	checker, err := entitlement.NewChecker(env.persistence)
	assert.Nil(err)
	keys, err := keystore.NewChain(keystore.NewRecordSource(env.persistence))
	assert.Nil(err)
	unwrapper := &kms.StaticUnwrapper{Keys: map[string][]byte{"d3JhcHBlZC1hZXM=": aesKey}}
	limiter := ratelimit.NewMemoryLimiter(2, time.Minute)

	uut, err := license.NewResponder(env.persistence, checker, keys, unwrapper, limiter)
	assert.Nil(err)

	request := license.Request{
		Email: env.user.Email, CourseCode: env.course.Code, VideoRef: env.video.ID,
	}

	for i := 0; i < 2; i++ {
		_, err = uut.RawAESKey(utCtx, request)
		assert.Nil(err)
	}
	_, err = uut.RawAESKey(utCtx, request)
	assert.True(errors.Is(err, models.ErrTooManyRequests))
}
