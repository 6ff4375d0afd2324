package models

import "time"

// WatchTime accumulated seconds a user spent watching one video
type WatchTime struct {
	// ID entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// UserID the watching user
	UserID string `json:"user_id" gorm:"column:user_id;not null;uniqueIndex:idx_watch_user_video" validate:"required,uuid_rfc4122"`

	// VideoID the watched video
	VideoID string `json:"video_id" gorm:"column:video_id;not null;uniqueIndex:idx_watch_user_video" validate:"required"`

	// Seconds total seconds watched
	Seconds int64 `json:"seconds" gorm:"column:seconds;not null" validate:"gte=0"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
