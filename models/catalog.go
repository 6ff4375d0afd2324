// Package models - system data models
package models

import "time"

// User an authenticated platform user
//
// Users are created by the external sign-in flow; this service only reads them.
type User struct {
	// ID user ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// Email stable sign-in identity
	Email string `json:"email" gorm:"column:email;not null;unique" validate:"required,email"`

	// Name display name
	Name string `json:"name" gorm:"column:name"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// Course a course grouping a set of videos
type Course struct {
	// ID course ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// Code unique human readable course code
	Code string `json:"code" gorm:"column:code;not null;unique" validate:"required"`

	// Title course title
	Title string `json:"title" gorm:"column:title"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// Video one video belonging to a course
type Video struct {
	// ID canonical video ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// CourseID the owning course
	CourseID string `json:"course_id" gorm:"column:course_id;not null" validate:"required,uuid_rfc4122"`

	// Title video title
	Title string `json:"title" gorm:"column:title"`

	// StoragePath storage path slug of the packaged asset
	StoragePath string `json:"storage_path" gorm:"column:storage_path;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrollment membership of a user in a course
type Enrollment struct {
	// UserID the enrolled user
	UserID string `json:"user_id" gorm:"column:user_id;primaryKey" validate:"required,uuid_rfc4122"`

	// CourseID the course enrolled in
	CourseID string `json:"course_id" gorm:"column:course_id;primaryKey" validate:"required,uuid_rfc4122"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// VideoAccess per-video allowlist row
//
// A user with zero rows within a course may watch every video in that course.
// The moment one row exists, only the listed videos are allowed. This
// default-allow rule is legacy compatible behavior and must be preserved.
type VideoAccess struct {
	// UserID the allowed user
	UserID string `json:"user_id" gorm:"column:user_id;primaryKey" validate:"required,uuid_rfc4122"`

	// VideoID the allowed video
	VideoID string `json:"video_id" gorm:"column:video_id;primaryKey" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
