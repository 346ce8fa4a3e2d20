package progress

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/maendeleo/core"
)

var (
	eventTypeTag  = "event_type"
	eventTypeText = "invalid event type"

	entityTypeTag  = "entity_type"
	entityTypeText = "invalid entity type"
)

// InitValidators registers the progress event validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(eventTypeTag, eventTypeValidation)
	core.RegisterCustomTranslation(validate, translator, eventTypeTag, eventTypeText)

	_ = validate.RegisterValidation(entityTypeTag, entityTypeValidation)
	core.RegisterCustomTranslation(validate, translator, entityTypeTag, entityTypeText)
}

func eventTypeValidation(fl validator.FieldLevel) bool {
	return ValidEventType(fl.Field().String())
}

func entityTypeValidation(fl validator.FieldLevel) bool {
	return ValidEntityType(fl.Field().String())
}
