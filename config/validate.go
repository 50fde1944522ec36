package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once          sync.Once
	validate      *configValidator
	errValidation error
)

type configValidator struct {
	trans     ut.Translator
	validator *validator.Validate
}

func newValidator() (*configValidator, error) {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := entranslations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, fmt.Errorf("failed to register translations: %w", err)
	}

	// Report fields by their config key.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("partsize", func(fl validator.FieldLevel) bool {
		_, err := parsePartSize(fl.Field().String())
		return err == nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register partsize validation: %w", err)
	}
	if err := v.RegisterTranslation("partsize", trans, func(ut ut.Translator) error {
		return ut.Add("partsize", "{0} must be a size of at least 5MiB, like 8MiB or 16MB", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("partsize", fe.Field())
		return t
	}); err != nil {
		return nil, fmt.Errorf("failed to register partsize translation: %w", err)
	}

	return &configValidator{trans: trans, validator: v}, nil
}

func (cv *configValidator) validate(cfg Config) error {
	err := cv.validator.Struct(cfg)
	if valErr, ok := err.(validator.ValidationErrors); ok {
		text, err := sonic.Marshal(valErr.Translate(cv.trans))
		if err != nil {
			return valErr
		}
		return fmt.Errorf("invalid configuration: %s", text)
	}
	return err
}

// Validate checks cfg and reports every invalid field with its config key.
func Validate(cfg Config) error {
	once.Do(func() {
		validate, errValidation = newValidator()
	})
	if errValidation != nil {
		return errValidation
	}
	return validate.validate(cfg)
}
