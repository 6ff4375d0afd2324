package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/keygate/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ======================================================================================
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
func (d *databaseImpl) RecordWatchTime(
	_ context.Context, user models.User, video models.Video, seconds int64,
) (models.WatchTime, error) {
	if seconds < 0 {
		return models.WatchTime{}, fmt.Errorf("negative watch time %d rejected", seconds)
	}

	var entry watchTimeEntry
	tmp := d.db.Where("user_id = ?", user.ID).Where("video_id = ?", video.ID).First(&entry)
	if tmp.Error != nil {
		if !errors.Is(tmp.Error, gorm.ErrRecordNotFound) {
			return models.WatchTime{}, fmt.Errorf(
				"failed to fetch watch time of %s on %s [%w]", user.ID, video.ID, tmp.Error,
			)
		}

		newEntry := watchTimeEntry{
			WatchTime: models.WatchTime{
				ID:      ulid.Make().String(),
				UserID:  user.ID,
				VideoID: video.ID,
				Seconds: seconds,
			},
		}
		if err := d.validator.Struct(&newEntry); err != nil {
			return models.WatchTime{}, fmt.Errorf(
				"new watch time entry for %s on %s is not valid [%w]", user.ID, video.ID, err,
			)
		}
		if tmp := d.db.Create(&newEntry); tmp.Error != nil {
			return models.WatchTime{}, fmt.Errorf(
				"new watch time entry for %s on %s failed insert [%w]", user.ID, video.ID, tmp.Error,
			)
		}
		return newEntry.WatchTime, nil
	}

	entry.Seconds += seconds
	if tmp := d.db.Updates(&entry); tmp.Error != nil {
		return models.WatchTime{}, fmt.Errorf(
			"watch time update for %s on %s failed [%w]", user.ID, video.ID, tmp.Error,
		)
	}

	return entry.WatchTime, nil
}

/*
ListWatchTimes list watch time entries

	@param ctx context.Context - execution context
	@param filters WatchTimeQueryFilter - entry listing filter
	@return list of watch time entries
*/
func (d *databaseImpl) ListWatchTimes(
	_ context.Context, filters WatchTimeQueryFilter,
) ([]models.WatchTime, error) {
	query := d.db.Model(&watchTimeEntry{})

	if filters.TargetUserID != nil {
		query = query.Where("user_id = ?", *filters.TargetUserID)
	}
	if filters.TargetVideoID != nil {
		query = query.Where("video_id = ?", *filters.TargetVideoID)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("updated_at desc")

	var entries []watchTimeEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list watch time entries [%w]", tmp.Error)
	}

	result := []models.WatchTime{}
	for _, entry := range entries {
		result = append(result, entry.WatchTime)
	}

	return result, nil
}
