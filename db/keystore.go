package db

import (
	"context"
	"fmt"

	"github.com/alwitt/keygate/models"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// ======================================================================================
// Keystore records

/*
SetVideoKeystore record the generic JSON keystore blob of a video

	@param ctx context.Context - execution context
	@param videoID string - video ID
	@param keystore []byte - JSON keystore blob
	@returns keystore entry
*/
func (d *databaseImpl) SetVideoKeystore(
	_ context.Context, videoID string, keystore []byte,
) (models.VideoKeystore, error) {
	newEntry := videoKeystoreEntry{
		VideoKeystore: models.VideoKeystore{
			VideoID:  videoID,
			Keystore: datatypes.JSON(keystore),
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.VideoKeystore{}, fmt.Errorf(
			"new keystore for video '%s' is not valid [%w]", videoID, err,
		)
	}

	tmp := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"keystore", "updated_at"}),
	}).Create(&newEntry)
	if tmp.Error != nil {
		return models.VideoKeystore{}, fmt.Errorf(
			"new keystore for video '%s' failed upsert [%w]", videoID, tmp.Error,
		)
	}

	return newEntry.VideoKeystore, nil
}

/*
GetVideoKeystore fetch the generic JSON keystore blob of a video

	@param ctx context.Context - execution context
	@param videoID string - video ID
	@returns keystore entry
*/
func (d *databaseImpl) GetVideoKeystore(
	_ context.Context, videoID string,
) (models.VideoKeystore, error) {
	var entry videoKeystoreEntry
	if tmp := d.db.Where("video_id = ?", videoID).First(&entry); tmp.Error != nil {
		return models.VideoKeystore{}, fmt.Errorf(
			"failed to fetch keystore for video '%s' [%w]", videoID, tmp.Error,
		)
	}

	return entry.VideoKeystore, nil
}

/*
SetVideoAESKey record the typed per-video AES key ciphertext

	@param ctx context.Context - execution context
	@param courseCode string - owning course code
	@param videoID string - video ID
	@param ciphertextB64 string - base64 wrapped key ciphertext
	@returns key entry
*/
func (d *databaseImpl) SetVideoAESKey(
	_ context.Context, courseCode string, videoID string, ciphertextB64 string,
) (models.VideoAESKey, error) {
	newEntry := videoAESKeyEntry{
		VideoAESKey: models.VideoAESKey{
			CourseCode:       courseCode,
			VideoID:          videoID,
			KMSCiphertextB64: ciphertextB64,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.VideoAESKey{}, fmt.Errorf(
			"new AES key for '%s/%s' is not valid [%w]", courseCode, videoID, err,
		)
	}

	tmp := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_code"}, {Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kms_ciphertext_b64", "updated_at"}),
	}).Create(&newEntry)
	if tmp.Error != nil {
		return models.VideoAESKey{}, fmt.Errorf(
			"new AES key for '%s/%s' failed upsert [%w]", courseCode, videoID, tmp.Error,
		)
	}

	return newEntry.VideoAESKey, nil
}

/*
GetVideoAESKey fetch the typed per-video AES key ciphertext

	@param ctx context.Context - execution context
	@param courseCode string - owning course code
	@param videoID string - video ID
	@returns key entry
*/
func (d *databaseImpl) GetVideoAESKey(
	_ context.Context, courseCode string, videoID string,
) (models.VideoAESKey, error) {
	var entry videoAESKeyEntry
	tmp := d.db.Where("course_code = ?", courseCode).Where("video_id = ?", videoID).First(&entry)
	if tmp.Error != nil {
		return models.VideoAESKey{}, fmt.Errorf(
			"failed to fetch AES key for '%s/%s' [%w]", courseCode, videoID, tmp.Error,
		)
	}

	return entry.VideoAESKey, nil
}
