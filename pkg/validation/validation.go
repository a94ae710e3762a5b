// Package validation wraps go-playground/validator with English messages keyed by JSON field name.
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"

	appErrors "github.com/noah-isme/roster-api/pkg/errors"
)

// Validator validates request structs and renders field errors.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

// New builds a validator that names fields after their json tag.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")
	_ = entranslations.RegisterDefaultTranslations(v, trans)
	return &Validator{validate: v, trans: trans}
}

// Engine exposes the underlying validator.
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

// Struct validates s and returns a VALIDATION_ERROR carrying one detail per failing field.
func (v *Validator) Struct(s interface{}, message string) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	return FromValidator(err, v.trans, message)
}

// FromValidator converts validator output into a typed validation error.
func FromValidator(err error, trans ut.Translator, message string) *appErrors.Error {
	appErr := appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		appErr.Details = make(map[string]string, len(ve))
		for _, fe := range ve {
			if trans != nil {
				appErr.Details[fe.Field()] = fe.Translate(trans)
			} else {
				appErr.Details[fe.Field()] = fe.Error()
			}
		}
	}
	return appErr
}

// Field builds a validation error for a single field.
func Field(field, reason, message string) *appErrors.Error {
	return appErrors.WithDetail(appErrors.Clone(appErrors.ErrValidation, message), field, reason)
}
