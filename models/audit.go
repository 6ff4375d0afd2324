package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// DeliveryEventTypeENUMType key delivery event type ENUM value type
type DeliveryEventTypeENUMType string

const (
	// DeliveryEventTypeLicenseGranted a ClearKey license was issued
	DeliveryEventTypeLicenseGranted DeliveryEventTypeENUMType = "LICENSE_GRANTED"

	// DeliveryEventTypeLicenseDenied a ClearKey license request was refused
	DeliveryEventTypeLicenseDenied DeliveryEventTypeENUMType = "LICENSE_DENIED"

	// DeliveryEventTypeAESKeyGranted a raw AES-128 key was issued
	DeliveryEventTypeAESKeyGranted DeliveryEventTypeENUMType = "AES_KEY_GRANTED"

	// DeliveryEventTypeAESKeyDenied a raw AES-128 key request was refused
	DeliveryEventTypeAESKeyDenied DeliveryEventTypeENUMType = "AES_KEY_DENIED"

	// DeliveryEventTypePlaylistServed a rewritten playlist was served
	DeliveryEventTypePlaylistServed DeliveryEventTypeENUMType = "PLAYLIST_SERVED"

	// DeliveryEventTypePlaybackTokenIssued a playback token was issued
	DeliveryEventTypePlaybackTokenIssued DeliveryEventTypeENUMType = "PLAYBACK_TOKEN_ISSUED"
)

// DeliveryEventAudit recording of key delivery events
type DeliveryEventAudit struct {
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// EventType delivery event type
	EventType DeliveryEventTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,delivery_event_type"`
	// Metadata a metadata relating to the event
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseMetadata parse the metadata based on the event type
func (a DeliveryEventAudit) ParseMetadata(validator *validator.Validate) (interface{}, error) {
	switch a.EventType {
	case DeliveryEventTypeLicenseGranted:
		fallthrough
	case DeliveryEventTypeLicenseDenied:
		fallthrough
	case DeliveryEventTypeAESKeyGranted:
		fallthrough
	case DeliveryEventTypeAESKeyDenied:
		fallthrough
	case DeliveryEventTypePlaylistServed:
		fallthrough
	case DeliveryEventTypePlaybackTokenIssued:
		var parsed DeliveryEventMetadata
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("delivery event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)
	}
	return nil, nil
}

// DeliveryEventMetadata delivery event metadata
//
// Carries identity and asset coordinates only. Key material, wrapped or
// plaintext, must never appear here.
type DeliveryEventMetadata struct {
	// Email requesting identity
	Email string `json:"email" validate:"required,email"`
	// CourseCode the course requested
	CourseCode string `json:"course_code" validate:"required"`
	// VideoID the video requested
	VideoID string `json:"video_id" validate:"required"`
	// Reason denial reason, empty on grants
	Reason string `json:"reason,omitempty"`
}
