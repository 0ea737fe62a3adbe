// Package validation configures the struct validator shared by gin request
// binding and the service layer, and turns its failures into field errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var engine *validator.Validate

func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		v = validator.New()
		v.SetTagName("binding")
	}
	v.RegisterTagNameFunc(fieldName)
	mustRegister(v, "shipping_stage", func(fl validator.FieldLevel) bool {
		return models.ShippingStatus(fl.Field().String()).Valid()
	})
	mustRegister(v, "preferred_shipping", func(fl validator.FieldLevel) bool {
		return models.PreferredShipping(fl.Field().String()).Valid()
	})
	mustRegister(v, "payment_purpose", func(fl validator.FieldLevel) bool {
		return models.PaymentPurpose(fl.Field().String()).Valid()
	})
	engine = v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Struct validates obj against its binding tags
func Struct(obj interface{}) error {
	if err := engine.Struct(obj); err != nil {
		return FromError(err)
	}
	return nil
}

// FromError converts validator failures into a validation error keyed by
// JSON field name. Other errors are returned unchanged.
func FromError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	fields := make(map[string]string, len(ves))
	for _, fe := range ves {
		if _, seen := fields[fe.Field()]; !seen {
			fields[fe.Field()] = message(fe)
		}
	}
	return apperror.Validation(fields)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "len":
		return fmt.Sprintf("must be a %s-letter code", fe.Param())
	case "shipping_stage":
		return "unknown shipping stage"
	case "preferred_shipping":
		return "must be one of air, sea, both"
	case "payment_purpose":
		return "must be one of import_order, promotion"
	}
	return "is invalid"
}

// fieldName reports a field by its JSON name. Fields hidden from JSON are
// filled by the server and reported in snake case.
func fieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name != "" && name != "-" {
		return name
	}
	return snakeCase(f.Name)
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
