package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/keygate/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// DeliveryEventQueryFilter audit event query filter conditions
type DeliveryEventQueryFilter struct {
	CommonListEntryQueryFilter
	// EventTypes the specific event types to query for
	EventTypes []models.DeliveryEventTypeENUMType
	// EventsAfter filter for events after this timestamp
	EventsAfter *time.Time
	// EventsBefore filter for events before this timestamp
	EventsBefore *time.Time
}

// WatchTimeQueryFilter watch time query filter conditions
type WatchTimeQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetUserID fetch only entries of this user
	TargetUserID *string
	// TargetVideoID fetch only entries of this video
	TargetVideoID *string
}

// Database the database handle to interacting with the data base
type Database interface {
	// ------------------------------------------------------------------------------------
	// Key delivery audit events

	/*
		RecordDeliveryEvent record a key delivery audit event

			@param ctx context.Context - execution context
			@param eventType models.DeliveryEventTypeENUMType - event type
			@param metadata models.DeliveryEventMetadata - event metadata
			@returns the audit entry
	*/
	RecordDeliveryEvent(
		ctx context.Context,
		eventType models.DeliveryEventTypeENUMType,
		metadata models.DeliveryEventMetadata,
	) (models.DeliveryEventAudit, error)

	/*
		ListDeliveryEvents list captured key delivery events

			@param ctx context.Context - execution context
			@param filters DeliveryEventQueryFilter - entry listing filter
			@return list of delivery events
	*/
	ListDeliveryEvents(
		ctx context.Context, filters DeliveryEventQueryFilter,
	) ([]models.DeliveryEventAudit, error)

	// ------------------------------------------------------------------------------------
	// Users, courses, videos

	/*
		DefineUser define a new user

			@param ctx context.Context - execution context
			@param email string - sign-in identity
			@param name string - display name
			@returns user entry
	*/
	DefineUser(ctx context.Context, email string, name string) (models.User, error)

	/*
		GetUserByEmail fetch a user by sign-in identity

			@param ctx context.Context - execution context
			@param email string - sign-in identity
			@returns user entry
	*/
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	/*
		DefineCourse define a new course

			@param ctx context.Context - execution context
			@param code string - unique course code
			@param title string - course title
			@returns course entry
	*/
	DefineCourse(ctx context.Context, code string, title string) (models.Course, error)

	/*
		GetCourseByCode fetch a course by its code

			@param ctx context.Context - execution context
			@param code string - course code
			@returns course entry
	*/
	GetCourseByCode(ctx context.Context, code string) (models.Course, error)

	/*
		DefineVideo define a new video within a course

			@param ctx context.Context - execution context
			@param course models.Course - the owning course
			@param videoID string - canonical video ID
			@param title string - video title
			@param storagePath string - storage path slug
			@returns video entry
	*/
	DefineVideo(
		ctx context.Context, course models.Course, videoID, title, storagePath string,
	) (models.Video, error)

	/*
		GetVideoByRef fetch a video within a course by canonical ID or storage path slug

			@param ctx context.Context - execution context
			@param courseCode string - the owning course code
			@param videoRef string - canonical ID or storage path slug
			@returns video entry
	*/
	GetVideoByRef(ctx context.Context, courseCode string, videoRef string) (models.Video, error)

	// ------------------------------------------------------------------------------------
	// Entitlement

	/*
		DefineEnrollment enroll a user in a course

			@param ctx context.Context - execution context
			@param user models.User - the user
			@param course models.Course - the course
			@returns enrollment entry
	*/
	DefineEnrollment(
		ctx context.Context, user models.User, course models.Course,
	) (models.Enrollment, error)

	/*
		GetEnrollment fetch the enrollment of a user in a course

			@param ctx context.Context - execution context
			@param userID string - user ID
			@param courseID string - course ID
			@returns enrollment entry
	*/
	GetEnrollment(ctx context.Context, userID string, courseID string) (models.Enrollment, error)

	/*
		DefineVideoAccess add a per-video allowlist row

			@param ctx context.Context - execution context
			@param user models.User - the user
			@param video models.Video - the video
			@returns allowlist entry
	*/
	DefineVideoAccess(
		ctx context.Context, user models.User, video models.Video,
	) (models.VideoAccess, error)

	/*
		CountVideoAccessInCourse count allowlist rows of a user scoped to a course

			@param ctx context.Context - execution context
			@param userID string - user ID
			@param courseID string - course ID
			@returns allowlist row count
	*/
	CountVideoAccessInCourse(ctx context.Context, userID string, courseID string) (int64, error)

	/*
		HasVideoAccess check whether an explicit allowlist row exists for a video

			@param ctx context.Context - execution context
			@param userID string - user ID
			@param videoID string - video ID
			@returns whether the row exists
	*/
	HasVideoAccess(ctx context.Context, userID string, videoID string) (bool, error)

	// ------------------------------------------------------------------------------------
	// Keystore records

	/*
		SetVideoKeystore record the generic JSON keystore blob of a video

			@param ctx context.Context - execution context
			@param videoID string - video ID
			@param keystore []byte - JSON keystore blob
			@returns keystore entry
	*/
	SetVideoKeystore(ctx context.Context, videoID string, keystore []byte) (models.VideoKeystore, error)

	/*
		GetVideoKeystore fetch the generic JSON keystore blob of a video

			@param ctx context.Context - execution context
			@param videoID string - video ID
			@returns keystore entry
	*/
	GetVideoKeystore(ctx context.Context, videoID string) (models.VideoKeystore, error)

	/*
		SetVideoAESKey record the typed per-video AES key ciphertext

			@param ctx context.Context - execution context
			@param courseCode string - owning course code
			@param videoID string - video ID
			@param ciphertextB64 string - base64 wrapped key ciphertext
			@returns key entry
	*/
	SetVideoAESKey(
		ctx context.Context, courseCode string, videoID string, ciphertextB64 string,
	) (models.VideoAESKey, error)

	/*
		GetVideoAESKey fetch the typed per-video AES key ciphertext

			@param ctx context.Context - execution context
			@param courseCode string - owning course code
			@param videoID string - video ID
			@returns key entry
	*/
	GetVideoAESKey(ctx context.Context, courseCode string, videoID string) (models.VideoAESKey, error)

	// ------------------------------------------------------------------------------------
	// Watch time tracking

	/*
		RecordWatchTime add watched seconds for a (user, video) pair

		The entry is created on first use and accumulated afterwards.

			@param ctx context.Context - execution context
			@param user models.User - the watching user
			@param video models.Video - the watched video
			@param seconds int64 - seconds to add
			@returns watch time entry after the update
	*/
	RecordWatchTime(
		ctx context.Context, user models.User, video models.Video, seconds int64,
	) (models.WatchTime, error)

	/*
		ListWatchTimes list watch time entries

			@param ctx context.Context - execution context
			@param filters WatchTimeQueryFilter - entry listing filter
			@return list of watch time entries
	*/
	ListWatchTimes(ctx context.Context, filters WatchTimeQueryFilter) ([]models.WatchTime, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "keygate", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}
