package validate

import (
	"errors"
	"reflect"
	"strings"

	"gerenciaesportes/internal/app/apiresp"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	locale := en.New()
	uni := ut.New(locale, locale)
	translator, _ = uni.GetTranslator("en")

	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	RegisterTranslation("required", "{0} is required")
	RegisterTranslation("notblank", "{0} must not be blank")
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// RegisterRule adds a custom validation tag with its English message. The
// message may reference the field name as {0}. Call it from package init only.
func RegisterRule(tag, text string, fn validator.Func) {
	_ = validate.RegisterValidation(tag, fn)
	RegisterTranslation(tag, text)
}

// RegisterTranslation overrides the message of an existing tag.
func RegisterTranslation(tag, text string) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Struct validates s and returns one entry per failing field, or nil.
func Struct(s interface{}) []apiresp.FieldError {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []apiresp.FieldError{{Field: "", Message: err.Error()}}
	}

	out := make([]apiresp.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, apiresp.FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: fe.Translate(translator),
		})
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace,
// e.g. "batchRequest.marks[0].status" -> "marks[0].status".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
