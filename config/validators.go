package config

import (
	"net/url"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const (
	httpURLTag  = "httpurl"
	httpURLText = "{0} must be an absolute http(s) URL"
)

// Translator renders validator errors in English.
var Translator ut.Translator

func init() {
	english := en.New()
	Translator, _ = ut.New(english, english).GetTranslator("en")
}

// RegisterValidators configures gin's binding validator: JSON field names in errors,
// English messages and the custom tags used by request payloads.
func RegisterValidators() {
	validate, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	InitValidators(validate)
}

// InitValidators registers translations and custom tags on validate.
func InitValidators(validate *validator.Validate) {
	_ = en_translations.RegisterDefaultTranslations(validate, Translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(httpURLTag, func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		return err == nil && u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})
	_ = validate.RegisterTranslation(
		httpURLTag, Translator,
		func(t ut.Translator) error { return t.Add(httpURLTag, httpURLText, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(httpURLTag, fe.Field())
			return s
		},
	)
}

// FieldErrors flattens validator errors into field -> message.
func FieldErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fe.Field()] = fe.Translate(Translator)
	}
	return out
}
