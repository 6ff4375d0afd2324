package db_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alwitt/keygate/db"
	"github.com/alwitt/keygate/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// TestDBKeystoreRecords verifies the keystore persistence API:
//   - SetVideoAESKey / GetVideoAESKey
//   - SetVideoKeystore / GetVideoKeystore
//
// The test performs the following steps:
//
//  1. Store a typed per-video AES key record and read it back.
//  2. Overwrite it and confirm the upsert replaced the ciphertext.
//  3. Store a JSON keystore blob and read it back.
//  4. Overwrite the blob and confirm replacement.
func TestDBKeystoreRecords(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/keygate_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	// 1. Typed AES key record
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.SetVideoAESKey(ctx, "go-101", "vid-0001", "Y2lwaGVydGV4dC1vbmU=")
		return err
	})
	assert.Nil(err)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		record, err := dbClient.GetVideoAESKey(ctx, "go-101", "vid-0001")
		if err != nil {
			return err
		}
		assert.Equal("Y2lwaGVydGV4dC1vbmU=", record.KMSCiphertextB64)
		return nil
	})
	assert.Nil(err)

	// 2. Upsert replaces the ciphertext
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.SetVideoAESKey(ctx, "go-101", "vid-0001", "Y2lwaGVydGV4dC10d28=")
		return err
	})
	assert.Nil(err)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		record, err := dbClient.GetVideoAESKey(ctx, "go-101", "vid-0001")
		if err != nil {
			return err
		}
		assert.Equal("Y2lwaGVydGV4dC10d28=", record.KMSCiphertextB64)
		return nil
	})
	assert.Nil(err)

	// 3. JSON keystore blob
	blob, err := json.Marshal(map[string]models.KeystoreEntry{
		"aes:go-101/vid-0001": {Ciphertext: "blob-ciphertext"},
	})
	assert.Nil(err)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.SetVideoKeystore(ctx, "vid-0001", blob)
		return err
	})
	assert.Nil(err)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		record, err := dbClient.GetVideoKeystore(ctx, "vid-0001")
		if err != nil {
			return err
		}
		var parsed map[string]models.KeystoreEntry
		assert.Nil(json.Unmarshal(record.Keystore, &parsed))
		assert.Equal("blob-ciphertext", parsed["aes:go-101/vid-0001"].Ciphertext)
		return nil
	})
	assert.Nil(err)

	// 4. Blob upsert
	blob, err = json.Marshal(map[string]models.KeystoreEntry{
		"aes:go-101/vid-0001": {Ciphertext: "blob-ciphertext-v2"},
	})
	assert.Nil(err)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.SetVideoKeystore(ctx, "vid-0001", blob)
		return err
	})
	assert.Nil(err)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		record, err := dbClient.GetVideoKeystore(ctx, "vid-0001")
		if err != nil {
			return err
		}
		var parsed map[string]models.KeystoreEntry
		assert.Nil(json.Unmarshal(record.Keystore, &parsed))
		assert.Equal("blob-ciphertext-v2", parsed["aes:go-101/vid-0001"].Ciphertext)
		return nil
	})
	assert.Nil(err)
}

// TestDBDeliveryAudit verifies delivery audit event recording and listing.
//
// The test performs the following steps:
//
//  1. Record a grant and a denial event.
//  2. List all events and verify both are present in order.
//  3. List with an event type filter and verify only the denial matches.
func TestDBDeliveryAudit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/keygate_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	// 1. Record two events
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		if _, err := dbClient.RecordDeliveryEvent(
			ctx, models.DeliveryEventTypeLicenseGranted, models.DeliveryEventMetadata{
				Email: "alice@example.com", CourseCode: "go-101", VideoID: "vid-0001",
			},
		); err != nil {
			return err
		}
		_, err := dbClient.RecordDeliveryEvent(
			ctx, models.DeliveryEventTypeAESKeyDenied, models.DeliveryEventMetadata{
				Email: "bob@example.com", CourseCode: "go-101", VideoID: "vid-0002",
				Reason: "entitlement",
			},
		)
		return err
	})
	assert.Nil(err)

	// 2. List everything
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListDeliveryEvents(ctx, db.DeliveryEventQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(events, 2)
		assert.Equal(models.DeliveryEventTypeLicenseGranted, events[0].EventType)
		assert.Equal(models.DeliveryEventTypeAESKeyDenied, events[1].EventType)

		v := validator.New()
		assert.Nil(models.RegisterWithValidator(v))
		parsed, err := events[1].ParseMetadata(v)
		assert.Nil(err)
		metadata, ok := parsed.(models.DeliveryEventMetadata)
		assert.True(ok)
		assert.Equal("bob@example.com", metadata.Email)
		assert.Equal("entitlement", metadata.Reason)
		return nil
	})
	assert.Nil(err)

	// 3. Filtered listing
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListDeliveryEvents(ctx, db.DeliveryEventQueryFilter{
			EventTypes: []models.DeliveryEventTypeENUMType{models.DeliveryEventTypeAESKeyDenied},
		})
		if err != nil {
			return err
		}
		assert.Len(events, 1)
		assert.Equal(models.DeliveryEventTypeAESKeyDenied, events[0].EventType)
		return nil
	})
	assert.Nil(err)
}

// TestDBWatchTime verifies watch time upsert accumulation.
//
// The test performs the following steps:
//
//  1. Define a user, course, and video.
//  2. Record 30 seconds, then 45 more; the stored row accumulates to 75.
//  3. List watch times filtered by user.
func TestDBWatchTime(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/keygate_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	var user models.User
	var video models.Video
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		var err error
		if user, err = dbClient.DefineUser(ctx, "alice@example.com", "Alice"); err != nil {
			return err
		}
		course, err := dbClient.DefineCourse(ctx, "go-101", "Intro course")
		if err != nil {
			return err
		}
		video, err = dbClient.DefineVideo(ctx, course, "vid-0001", "Lesson one", "lesson-one")
		return err
	})
	assert.Nil(err)

	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.RecordWatchTime(ctx, user, video, 30)
		return err
	})
	assert.Nil(err)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		entry, err := dbClient.RecordWatchTime(ctx, user, video, 45)
		if err != nil {
			return err
		}
		assert.Equal(int64(75), entry.Seconds)
		return nil
	})
	assert.Nil(err)

	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		entries, err := dbClient.ListWatchTimes(ctx, db.WatchTimeQueryFilter{TargetUserID: &user.ID})
		if err != nil {
			return err
		}
		assert.Len(entries, 1)
		assert.Equal(int64(75), entries[0].Seconds)
		return nil
	})
	assert.Nil(err)
}
