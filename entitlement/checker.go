// Package entitlement - per-request video access decisions
package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/models"
	"github.com/apex/log"
	"gorm.io/gorm"
)

// Grant the resolved identity and asset of a successful entitlement check
type Grant struct {
	// User the authenticated user
	User models.User
	// Course the course requested
	Course models.Course
	// Video the video requested
	Video models.Video
}

/*
Checker decides whether an identity may obtain decryption material for a video.

Decisions are evaluated fresh on every request; entitlement can change between
a playback token's issuance and its use, so nothing here is cached.
*/
type Checker interface {
	/*
		Authorize check access of an identity to one video

			@param ctx context.Context - execution context
			@param email string - authenticated identity
			@param courseCode string - course code
			@param videoRef string - canonical video ID or storage path slug
			@returns the resolved grant
	*/
	Authorize(ctx context.Context, email, courseCode, videoRef string) (Grant, error)
}

// checkerImpl implements Checker
type checkerImpl struct {
	goutils.Component

	persistence db.Client
}

/*
NewChecker define a new entitlement checker

	@param persistence db.Client - persistence layer client
	@returns checker instance
*/
func NewChecker(persistence db.Client) (Checker, error) {
	logTags := log.Fields{"module": "entitlement", "component": "checker"}

	return &checkerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
	}, nil
}

/*
Authorize check access of an identity to one video

Allow logic:
  - The user must be enrolled in the course owning the video.
  - If the user has ANY allowlist rows within that course, those rows are
    authoritative; only listed videos are allowed.
  - If the user has NONE for that course, every video in the course is
    allowed (legacy behavior, preserved deliberately).

	@param ctx context.Context - execution context
	@param email string - authenticated identity
	@param courseCode string - course code
	@param videoRef string - canonical video ID or storage path slug
	@returns the resolved grant
*/
func (c *checkerImpl) Authorize(
	ctx context.Context, email, courseCode, videoRef string,
) (Grant, error) {
	var grant Grant

	err := c.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		user, err := dbClient.GetUserByEmail(dbCtx, email)
		if err != nil {
			return asLookupFailure(err, "user unknown")
		}

		course, err := dbClient.GetCourseByCode(dbCtx, courseCode)
		if err != nil {
			return asLookupFailure(err, "course unknown")
		}

		video, err := dbClient.GetVideoByRef(dbCtx, courseCode, videoRef)
		if err != nil {
			return asLookupFailure(err, "video unknown")
		}

		if _, err := dbClient.GetEnrollment(dbCtx, user.ID, course.ID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("'%s' not enrolled in '%s': %w", email, courseCode, models.ErrForbidden)
			}
			return fmt.Errorf("enrollment lookup failed [%w]", err)
		}

		allowRows, err := dbClient.CountVideoAccessInCourse(dbCtx, user.ID, course.ID)
		if err != nil {
			return fmt.Errorf("allowlist count failed [%w]", err)
		}

		if allowRows > 0 {
			allowed, err := dbClient.HasVideoAccess(dbCtx, user.ID, video.ID)
			if err != nil {
				return fmt.Errorf("allowlist lookup failed [%w]", err)
			}
			if !allowed {
				return fmt.Errorf(
					"'%s' not allowlisted for video '%s': %w", email, video.ID, models.ErrForbidden,
				)
			}
		}

		grant = Grant{User: user, Course: course, Video: video}
		return nil
	})
	if err != nil {
		return Grant{}, err
	}

	return grant, nil
}

// asLookupFailure translate a missing row into the request failure taxonomy
func asLookupFailure(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", msg, models.ErrNotFound)
	}
	return fmt.Errorf("%s [%w]", msg, err)
}
