package attendance

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mahudhurio/core"
)

var (
	statusTag  = "attendance_status"
	statusText = "must be one of present, absent, late or pending"

	methodTag  = "attendance_method"
	methodText = "must be one of manual or auto"
)

// InitValidators registers the attendance validation tags. Call it after core.InitValidators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(statusTag, func(fl validator.FieldLevel) bool {
		return Status(fl.Field().String()).Valid()
	})
	core.RegisterCustomTranslation(validate, translator, statusTag, statusText)

	_ = validate.RegisterValidation(methodTag, func(fl validator.FieldLevel) bool {
		return Method(fl.Field().String()).Valid()
	})
	core.RegisterCustomTranslation(validate, translator, methodTag, methodText)
}
