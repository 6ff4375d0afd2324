package db

import (
	"context"
	"fmt"

	"github.com/alwitt/keygate/models"
	"github.com/google/uuid"
)

// ======================================================================================
// Users

/*
DefineUser define a new user

	@param ctx context.Context - execution context
	@param email string - sign-in identity
	@param name string - display name
	@returns user entry
*/
func (d *databaseImpl) DefineUser(
	_ context.Context, email string, name string,
) (models.User, error) {
	newEntry := userEntry{
		User: models.User{
			ID:    uuid.NewString(),
			Email: email,
			Name:  name,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.User{}, fmt.Errorf("new user '%s' is not valid [%w]", email, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.User{}, fmt.Errorf("new user '%s' failed insert [%w]", email, tmp.Error)
	}

	return newEntry.User, nil
}

/*
GetUserByEmail fetch a user by sign-in identity

	@param ctx context.Context - execution context
	@param email string - sign-in identity
	@returns user entry
*/
func (d *databaseImpl) GetUserByEmail(
	_ context.Context, email string,
) (models.User, error) {
	var entry userEntry
	if tmp := d.db.Where("email = ?", email).First(&entry); tmp.Error != nil {
		return models.User{}, fmt.Errorf("failed to fetch user '%s' [%w]", email, tmp.Error)
	}

	return entry.User, nil
}

// ======================================================================================
// Courses

/*
DefineCourse define a new course

	@param ctx context.Context - execution context
	@param code string - unique course code
	@param title string - course title
	@returns course entry
*/
func (d *databaseImpl) DefineCourse(
	_ context.Context, code string, title string,
) (models.Course, error) {
	newEntry := courseEntry{
		Course: models.Course{
			ID:    uuid.NewString(),
			Code:  code,
			Title: title,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Course{}, fmt.Errorf("new course '%s' is not valid [%w]", code, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Course{}, fmt.Errorf("new course '%s' failed insert [%w]", code, tmp.Error)
	}

	return newEntry.Course, nil
}

/*
GetCourseByCode fetch a course by its code

	@param ctx context.Context - execution context
	@param code string - course code
	@returns course entry
*/
func (d *databaseImpl) GetCourseByCode(
	_ context.Context, code string,
) (models.Course, error) {
	var entry courseEntry
	if tmp := d.db.Where("code = ?", code).First(&entry); tmp.Error != nil {
		return models.Course{}, fmt.Errorf("failed to fetch course '%s' [%w]", code, tmp.Error)
	}

	return entry.Course, nil
}

// ======================================================================================
// Videos

/*
DefineVideo define a new video within a course

	@param ctx context.Context - execution context
	@param course models.Course - the owning course
	@param videoID string - canonical video ID
	@param title string - video title
	@param storagePath string - storage path slug
	@returns video entry
*/
func (d *databaseImpl) DefineVideo(
	_ context.Context, course models.Course, videoID, title, storagePath string,
) (models.Video, error) {
	newEntry := videoEntry{
		Video: models.Video{
			ID:          videoID,
			CourseID:    course.ID,
			Title:       title,
			StoragePath: storagePath,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Video{}, fmt.Errorf("new video '%s' is not valid [%w]", videoID, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Video{}, fmt.Errorf("new video '%s' failed insert [%w]", videoID, tmp.Error)
	}

	return newEntry.Video, nil
}

/*
GetVideoByRef fetch a video within a course by canonical ID or storage path slug

Both reference forms must resolve to the same video entry.

	@param ctx context.Context - execution context
	@param courseCode string - the owning course code
	@param videoRef string - canonical ID or storage path slug
	@returns video entry
*/
func (d *databaseImpl) GetVideoByRef(
	_ context.Context, courseCode string, videoRef string,
) (models.Video, error) {
	var entry videoEntry
	tmp := d.db.
		Joins("JOIN courses ON courses.id = videos.course_id").
		Where("courses.code = ?", courseCode).
		Where("videos.id = ? OR videos.storage_path = ?", videoRef, videoRef).
		First(&entry)
	if tmp.Error != nil {
		return models.Video{}, fmt.Errorf(
			"failed to fetch video '%s' of course '%s' [%w]", videoRef, courseCode, tmp.Error,
		)
	}

	return entry.Video, nil
}

// ======================================================================================
// Entitlement

/*
DefineEnrollment enroll a user in a course

	@param ctx context.Context - execution context
	@param user models.User - the user
	@param course models.Course - the course
	@returns enrollment entry
*/
func (d *databaseImpl) DefineEnrollment(
	_ context.Context, user models.User, course models.Course,
) (models.Enrollment, error) {
	newEntry := enrollmentEntry{
		Enrollment: models.Enrollment{
			UserID:   user.ID,
			CourseID: course.ID,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Enrollment{}, fmt.Errorf(
			"new enrollment of '%s' in '%s' is not valid [%w]", user.Email, course.Code, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Enrollment{}, fmt.Errorf(
			"new enrollment of '%s' in '%s' failed insert [%w]", user.Email, course.Code, tmp.Error,
		)
	}

	return newEntry.Enrollment, nil
}

/*
GetEnrollment fetch the enrollment of a user in a course

	@param ctx context.Context - execution context
	@param userID string - user ID
	@param courseID string - course ID
	@returns enrollment entry
*/
func (d *databaseImpl) GetEnrollment(
	_ context.Context, userID string, courseID string,
) (models.Enrollment, error) {
	var entry enrollmentEntry
	tmp := d.db.Where("user_id = ?", userID).Where("course_id = ?", courseID).First(&entry)
	if tmp.Error != nil {
		return models.Enrollment{}, fmt.Errorf(
			"failed to fetch enrollment of %s in %s [%w]", userID, courseID, tmp.Error,
		)
	}

	return entry.Enrollment, nil
}

/*
DefineVideoAccess add a per-video allowlist row

	@param ctx context.Context - execution context
	@param user models.User - the user
	@param video models.Video - the video
	@returns allowlist entry
*/
func (d *databaseImpl) DefineVideoAccess(
	_ context.Context, user models.User, video models.Video,
) (models.VideoAccess, error) {
	newEntry := videoAccessEntry{
		VideoAccess: models.VideoAccess{
			UserID:  user.ID,
			VideoID: video.ID,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.VideoAccess{}, fmt.Errorf(
			"new allowlist row for '%s' on '%s' is not valid [%w]", user.Email, video.ID, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.VideoAccess{}, fmt.Errorf(
			"new allowlist row for '%s' on '%s' failed insert [%w]", user.Email, video.ID, tmp.Error,
		)
	}

	return newEntry.VideoAccess, nil
}

/*
CountVideoAccessInCourse count allowlist rows of a user scoped to a course

	@param ctx context.Context - execution context
	@param userID string - user ID
	@param courseID string - course ID
	@returns allowlist row count
*/
func (d *databaseImpl) CountVideoAccessInCourse(
	_ context.Context, userID string, courseID string,
) (int64, error) {
	var count int64
	tmp := d.db.Model(&videoAccessEntry{}).
		Joins("JOIN videos ON videos.id = video_access.video_id").
		Where("video_access.user_id = ?", userID).
		Where("videos.course_id = ?", courseID).
		Count(&count)
	if tmp.Error != nil {
		return 0, fmt.Errorf(
			"failed to count allowlist rows of %s in %s [%w]", userID, courseID, tmp.Error,
		)
	}

	return count, nil
}

/*
HasVideoAccess check whether an explicit allowlist row exists for a video

	@param ctx context.Context - execution context
	@param userID string - user ID
	@param videoID string - video ID
	@returns whether the row exists
*/
func (d *databaseImpl) HasVideoAccess(
	_ context.Context, userID string, videoID string,
) (bool, error) {
	var entries []videoAccessEntry
	tmp := d.db.Where("user_id = ?", userID).Where("video_id = ?", videoID).Find(&entries)
	if tmp.Error != nil {
		return false, fmt.Errorf(
			"failed to fetch allowlist row of %s on %s [%w]", userID, videoID, tmp.Error,
		)
	}

	return len(entries) > 0, nil
}
