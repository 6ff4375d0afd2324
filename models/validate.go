package models

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"delivery_event_type", validateDeliveryEventType,
	); err != nil {
		return err
	}

	return nil
}

func validateDeliveryEventType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch DeliveryEventTypeENUMType(fl.Field().String()) {
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
		return true
	}
	return false
}
