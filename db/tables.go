package db

import "github.com/alwitt/keygate/models"

// --------------------------------------------------------------------------------------
// Key delivery audit events

type deliveryEventAuditEntry struct {
	models.DeliveryEventAudit
}

// TableName hard code table name
func (deliveryEventAuditEntry) TableName() string {
	return "delivery_audit_events"
}

// --------------------------------------------------------------------------------------
// Users, courses, videos

type userEntry struct {
	models.User
}

// TableName hard code table name
func (userEntry) TableName() string {
	return "users"
}

type courseEntry struct {
	models.Course
}

// TableName hard code table name
func (courseEntry) TableName() string {
	return "courses"
}

type videoEntry struct {
	models.Video
	Course courseEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID" validate:"-"`
}

// TableName hard code table name
func (videoEntry) TableName() string {
	return "videos"
}

// --------------------------------------------------------------------------------------
// Entitlement

type enrollmentEntry struct {
	models.Enrollment
	User   userEntry   `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID" validate:"-"`
	Course courseEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID" validate:"-"`
}

// TableName hard code table name
func (enrollmentEntry) TableName() string {
	return "enrollments"
}

type videoAccessEntry struct {
	models.VideoAccess
	User  userEntry  `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID" validate:"-"`
	Video videoEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:VideoID" validate:"-"`
}

// TableName hard code table name
func (videoAccessEntry) TableName() string {
	return "video_access"
}

// --------------------------------------------------------------------------------------
// Keystore records

type videoKeystoreEntry struct {
	models.VideoKeystore
}

// TableName hard code table name
func (videoKeystoreEntry) TableName() string {
	return "video_keystores"
}

type videoAESKeyEntry struct {
	models.VideoAESKey
}

// TableName hard code table name
func (videoAESKeyEntry) TableName() string {
	return "video_aes_keys"
}

// --------------------------------------------------------------------------------------
// Watch time tracking

type watchTimeEntry struct {
	models.WatchTime
	User  userEntry  `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID" validate:"-"`
	Video videoEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:VideoID" validate:"-"`
}

// TableName hard code table name
func (watchTimeEntry) TableName() string {
	return "watch_times"
}
