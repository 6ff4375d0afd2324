package entitlement_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/entitlement"
	"github.com/alwitt/keygate/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// TestCheckerAuthorize verifies entitlement decisions.
//
// The test performs the following steps:
//
//  1. Define a user enrolled in a course holding two videos.
//  2. With no allowlist rows, both videos are granted (default allow), and
//     the slug and canonical ID forms resolve to the same grant.
//  3. Add one allowlist row for video 1; video 1 stays granted while video 2
//     flips to Forbidden.
//  4. An unenrolled user is Forbidden; an unknown user, course, or video is
//     NotFound.
func TestCheckerAuthorize(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/keygate_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	// 1. Catalog setup
	var user models.User
	var course models.Course
	var video1, video2 models.Video
	err = persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			if user, err = dbClient.DefineUser(ctx, "alice@example.com", "Alice"); err != nil {
				return err
			}
			if _, err = dbClient.DefineUser(ctx, "mallory@example.com", "Mallory"); err != nil {
				return err
			}
			if course, err = dbClient.DefineCourse(ctx, "go-101", "Intro course"); err != nil {
				return err
			}
			if video1, err = dbClient.DefineVideo(
				ctx, course, "vid-0001", "Lesson one", "lesson-one",
			); err != nil {
				return err
			}
			if video2, err = dbClient.DefineVideo(
				ctx, course, "vid-0002", "Lesson two", "lesson-two",
			); err != nil {
				return err
			}
			_, err = dbClient.DefineEnrollment(ctx, user, course)
			return err
		},
	)
	assert.Nil(err)

	uut, err := entitlement.NewChecker(persistence)
	assert.Nil(err)

	// 2. Default allow with an empty allowlist
	grant1, err := uut.Authorize(utCtx, "alice@example.com", "go-101", "vid-0001")
	assert.Nil(err)
	assert.Equal(video1.ID, grant1.Video.ID)

	bySlug, err := uut.Authorize(utCtx, "alice@example.com", "go-101", "lesson-one")
	assert.Nil(err)
	assert.Equal(grant1.Video, bySlug.Video)

	grant2, err := uut.Authorize(utCtx, "alice@example.com", "go-101", "vid-0002")
	assert.Nil(err)
	assert.Equal(video2.ID, grant2.Video.ID)

	// 3. One allowlist row makes the allowlist authoritative
	err = persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.DefineVideoAccess(ctx, user, video1)
			return err
		},
	)
	assert.Nil(err)

	_, err = uut.Authorize(utCtx, "alice@example.com", "go-101", "vid-0001")
	assert.Nil(err)
	_, err = uut.Authorize(utCtx, "alice@example.com", "go-101", "vid-0002")
	assert.True(errors.Is(err, models.ErrForbidden))

	// 4. Unenrolled, and unknown coordinates
	_, err = uut.Authorize(utCtx, "mallory@example.com", "go-101", "vid-0001")
	assert.True(errors.Is(err, models.ErrForbidden))

	_, err = uut.Authorize(utCtx, "nobody@example.com", "go-101", "vid-0001")
	assert.True(errors.Is(err, models.ErrNotFound))
	_, err = uut.Authorize(utCtx, "alice@example.com", "go-999", "vid-0001")
	assert.True(errors.Is(err, models.ErrNotFound))
	_, err = uut.Authorize(utCtx, "alice@example.com", "go-101", "vid-9999")
	assert.True(errors.Is(err, models.ErrNotFound))
}
