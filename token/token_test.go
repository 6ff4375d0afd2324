package token_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/entitlement"
	"github.com/alwitt/keygate/models"
	"github.com/alwitt/keygate/token"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// setupTokenTestEnv prepare a throwaway DB with one enrolled user and
// return a checker over it
func setupTokenTestEnv(t *testing.T) (db.Client, entitlement.Checker) {
	assert := assert.New(t)
	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/keygate_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	err = persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			user, err := dbClient.DefineUser(ctx, "alice@example.com", "Alice")
			if err != nil {
				return err
			}
			course, err := dbClient.DefineCourse(ctx, "go-101", "Intro course")
			if err != nil {
				return err
			}
			if _, err := dbClient.DefineVideo(
				ctx, course, "vid-0001", "Lesson one", "lesson-one",
			); err != nil {
				return err
			}
			_, err = dbClient.DefineEnrollment(ctx, user, course)
			return err
		},
	)
	assert.Nil(err)

	checker, err := entitlement.NewChecker(persistence)
	assert.Nil(err)
	return persistence, checker
}

// TestTokenIssueAndVerify verifies the playback token round trip.
//
// The test performs the following steps:
//
//  1. Issue a token for an entitled user via the storage path slug.
//  2. Verify it; claims carry the canonical video ID and the course code.
//  3. Without single-use enforcement a second verification also passes.
//  4. A token signed with a different key is rejected as Unauthorized.
//  5. Issuance for an unknown video fails, so no token leaks for assets
//     outside the catalog.
func TestTokenIssueAndVerify(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	persistence, checker := setupTokenTestEnv(t)

	uut, err := token.NewIssuer(
		persistence, checker, token.NewMemoryReplayStore(),
		token.IssuerConfig{SigningKey: []byte("0123456789abcdef0123456789abcdef")},
	)
	assert.Nil(err)

	// 1 + 2. Round trip
	signed, err := uut.Issue(utCtx, "alice@example.com", "go-101", "lesson-one")
	assert.Nil(err)
	claims, err := uut.Verify(utCtx, signed)
	assert.Nil(err)
	assert.Equal("alice@example.com", claims.Email)
	assert.Equal("go-101", claims.CourseCode)
	assert.Equal("vid-0001", claims.VideoID)
	assert.NotEmpty(claims.ID)

	// 3. Re-verification passes with enforcement off
	_, err = uut.Verify(utCtx, signed)
	assert.Nil(err)

	// 4. Foreign signing key
	foreign, err := token.NewIssuer(
		persistence, checker, token.NewMemoryReplayStore(),
		token.IssuerConfig{SigningKey: []byte("ffffffffffffffffffffffffffffffff")},
	)
	assert.Nil(err)
	badToken, err := foreign.Issue(utCtx, "alice@example.com", "go-101", "vid-0001")
	assert.Nil(err)
	_, err = uut.Verify(utCtx, badToken)
	assert.True(errors.Is(err, models.ErrUnauthorized))

	// 5. Unknown video
	_, err = uut.Issue(utCtx, "alice@example.com", "go-101", "vid-9999")
	assert.True(errors.Is(err, models.ErrNotFound))
}

// TestTokenSingleUse verifies optional single-use enforcement.
//
// The test performs the following steps:
//
//  1. Issue a token with EnforceSingleUse on.
//  2. First verification consumes the jti; the second is rejected.
func TestTokenSingleUse(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	persistence, checker := setupTokenTestEnv(t)

	uut, err := token.NewIssuer(
		persistence, checker, token.NewMemoryReplayStore(),
		token.IssuerConfig{
			SigningKey:       []byte("0123456789abcdef0123456789abcdef"),
			Lifetime:         time.Minute,
			EnforceSingleUse: true,
		},
	)
	assert.Nil(err)

	signed, err := uut.Issue(utCtx, "alice@example.com", "go-101", "vid-0001")
	assert.Nil(err)

	_, err = uut.Verify(utCtx, signed)
	assert.Nil(err)
	_, err = uut.Verify(utCtx, signed)
	assert.True(errors.Is(err, models.ErrUnauthorized))
}
