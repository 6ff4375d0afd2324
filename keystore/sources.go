package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/models"
	"gorm.io/gorm"
)

// aesBlobKey the keystore blob entry key of the single AES-128 key
func aesBlobKey(courseCode, videoID string) string {
	return fmt.Sprintf("aes:%s/%s", courseCode, videoID)
}

// --------------------------------------------------------------------------------------
// Typed per-video AES key table

// recordSource reads the dedicated `video_aes_keys` table. Highest priority
// source for the single-key flow; holds no per-KID entries.
type recordSource struct {
	persistence db.Client
}

/*
NewRecordSource define a source over the typed per-video AES key table

	@param persistence db.Client - persistence layer client
	@returns source instance
*/
func NewRecordSource(persistence db.Client) Source {
	return &recordSource{persistence: persistence}
}

// LookupAES find the single AES-128 key ciphertext of a video
func (s *recordSource) LookupAES(
	ctx context.Context, courseCode string, videoID string,
) (string, bool, error) {
	var entry models.VideoAESKey
	err := s.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		var err error
		entry, err = dbClient.GetVideoAESKey(dbCtx, courseCode, videoID)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("AES key record probe failed [%w]", err)
	}
	return entry.KMSCiphertextB64, true, nil
}

// LookupKID the typed table holds no per-KID entries
func (s *recordSource) LookupKID(
	_ context.Context, _ string, _ string,
) (string, bool, error) {
	return "", false, nil
}

// --------------------------------------------------------------------------------------
// Generic JSON keystore blob

// blobSource reads the generic `video_keystores` JSON blob. Serves the
// single-key flow through the "aes:<course>/<video>" entry (or the flat
// "aesKeyCiphertextB64" field) and the multi-key flow through per-KID-hex
// entries.
type blobSource struct {
	persistence db.Client
}

/*
NewBlobSource define a source over the generic JSON keystore blob

	@param persistence db.Client - persistence layer client
	@returns source instance
*/
func NewBlobSource(persistence db.Client) Source {
	return &blobSource{persistence: persistence}
}

// fetchBlob read and parse the keystore blob of a video
func (s *blobSource) fetchBlob(
	ctx context.Context, videoID string,
) (map[string]json.RawMessage, bool, error) {
	var record models.VideoKeystore
	err := s.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		var err error
		record, err = dbClient.GetVideoKeystore(dbCtx, videoID)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("keystore blob probe failed [%w]", err)
	}

	parsed := map[string]json.RawMessage{}
	if err := json.Unmarshal(record.Keystore, &parsed); err != nil {
		return nil, false, fmt.Errorf("keystore blob of video '%s' unparsable [%w]", videoID, err)
	}
	return parsed, true, nil
}

// LookupAES find the single AES-128 key ciphertext of a video
func (s *blobSource) LookupAES(
	ctx context.Context, courseCode string, videoID string,
) (string, bool, error) {
	blob, ok, err := s.fetchBlob(ctx, videoID)
	if err != nil || !ok {
		return "", false, err
	}

	if raw, present := blob[aesBlobKey(courseCode, videoID)]; present {
		var entry models.KeystoreEntry
		if err := json.Unmarshal(raw, &entry); err == nil && entry.Ciphertext != "" {
			return entry.Ciphertext, true, nil
		}
	}

	// Alternate single-field storage
	if raw, present := blob["aesKeyCiphertextB64"]; present {
		var ciphertext string
		if err := json.Unmarshal(raw, &ciphertext); err == nil && ciphertext != "" {
			return ciphertext, true, nil
		}
	}

	return "", false, nil
}

// LookupKID find the ciphertext of one key ID of a video
func (s *blobSource) LookupKID(
	ctx context.Context, videoID string, kidHex string,
) (string, bool, error) {
	blob, ok, err := s.fetchBlob(ctx, videoID)
	if err != nil || !ok {
		return "", false, err
	}

	raw, present := blob[kidHex]
	if !present {
		return "", false, nil
	}
	var entry models.KeystoreEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Ciphertext == "" {
		return "", false, nil
	}
	return entry.Ciphertext, true, nil
}
