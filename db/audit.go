// Package db - persistence layer
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alwitt/keygate/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
)

/*
RecordDeliveryEvent record a key delivery audit event

	@param ctx context.Context - execution context
	@param eventType models.DeliveryEventTypeENUMType - event type
	@param metadata models.DeliveryEventMetadata - event metadata
	@returns the audit entry
*/
func (d *databaseImpl) RecordDeliveryEvent(
	_ context.Context,
	eventType models.DeliveryEventTypeENUMType,
	metadata models.DeliveryEventMetadata,
) (models.DeliveryEventAudit, error) {
	newEntry := deliveryEventAuditEntry{
		DeliveryEventAudit: models.DeliveryEventAudit{
			ID: ulid.Make().String(), EventType: eventType,
		},
	}

	if err := d.validator.Struct(&metadata); err != nil {
		return models.DeliveryEventAudit{}, fmt.Errorf(
			"new delivery event '%s' metadata entry is not valid [%w]", eventType, err,
		)
	}

	metadataStr, _ := json.Marshal(&metadata)
	newEntry.Metadata = datatypes.JSON(metadataStr)

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.DeliveryEventAudit{}, fmt.Errorf(
			"new delivery event '%s' entry is not valid [%w]", eventType, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.DeliveryEventAudit{}, fmt.Errorf(
			"new delivery event '%s' insert failed [%w]", eventType, tmp.Error,
		)
	}

	return newEntry.DeliveryEventAudit, nil
}

/*
ListDeliveryEvents list captured key delivery events

	@param ctx context.Context - execution context
	@param filters DeliveryEventQueryFilter - entry listing filter
	@return list of delivery events
*/
func (d *databaseImpl) ListDeliveryEvents(
	_ context.Context, filters DeliveryEventQueryFilter,
) ([]models.DeliveryEventAudit, error) {
	query := d.db.Model(&deliveryEventAuditEntry{})

	if len(filters.EventTypes) > 0 {
		query = query.Where("type in ?", filters.EventTypes)
	}

	if filters.EventsAfter != nil {
		query = query.Where("created_at >= ?", *filters.EventsAfter)
	}
	if filters.EventsBefore != nil {
		query = query.Where("created_at <= ?", *filters.EventsBefore)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("created_at")

	var entries []deliveryEventAuditEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list captured delivery events [%w]", tmp.Error)
	}

	result := []models.DeliveryEventAudit{}
	for _, entry := range entries {
		result = append(result, entry.DeliveryEventAudit)
	}

	return result, nil
}
