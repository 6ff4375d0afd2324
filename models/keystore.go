package models

import (
	"time"

	"gorm.io/datatypes"
)

// KeystoreEntry one ciphertext entry within a video keystore blob
type KeystoreEntry struct {
	// Ciphertext base64 envelope-encrypted content key
	Ciphertext string `json:"ciphertext" validate:"required,base64"`
	// CreatedAt when the key was wrapped
	CreatedAt string `json:"createdAt,omitempty"`
}

// VideoKeystore generic JSON keystore record for one video
//
// The blob maps lookup keys to `KeystoreEntry` values. Two key namespaces
// coexist from the incremental migration of the packaging pipeline:
//   - "<kid-hex>" entries for multi-key ClearKey/DASH flows
//   - "aes:<courseCode>/<videoID>" entries (or a flat "aesKeyCiphertextB64"
//     string field) for the single-key AES-128/HLS flow
type VideoKeystore struct {
	// VideoID the video this keystore belongs to
	VideoID string `json:"video_id" gorm:"column:video_id;primaryKey;unique" validate:"required"`

	// Keystore the keystore blob
	Keystore datatypes.JSON `json:"keystore" gorm:"column:keystore;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// VideoAESKey typed per-video AES-128 key record
//
// Preferred over the keystore blob when present; holds exactly one wrapped
// 16-byte key for the whole asset.
type VideoAESKey struct {
	// CourseCode the owning course code
	CourseCode string `json:"course_code" gorm:"column:course_code;primaryKey" validate:"required"`

	// VideoID the video the key protects
	VideoID string `json:"video_id" gorm:"column:video_id;primaryKey" validate:"required"`

	// KMSCiphertextB64 base64 envelope-encrypted content key
	KMSCiphertextB64 string `json:"kms_ciphertext_b64" gorm:"column:kms_ciphertext_b64;not null" validate:"required,base64"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ClearKeyResponseEntry one key in a ClearKey license response
type ClearKeyResponseEntry struct {
	// KeyType key type, always "oct" for ClearKey
	KeyType string `json:"kty"`
	// KeyID base64url unpadded key ID
	KeyID string `json:"kid"`
	// Key base64url unpadded plaintext key
	Key string `json:"k"`
}

// ClearKeyResponse W3C EME ClearKey license response body
type ClearKeyResponse struct {
	// Keys the delivered keys, in request order
	Keys []ClearKeyResponseEntry `json:"keys"`
}
