package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("decimal_gt0", validateDecimalPositive)
	_ = validate.RegisterValidation("decimal_gte0", validateDecimalNotNegative)
	_ = validate.RegisterValidation("decimal_ne0", validateDecimalNotZero)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func decimalField(fl validator.FieldLevel) (decimal.Decimal, bool) {
	switch v := fl.Field().Interface().(type) {
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	default:
		return decimal.Zero, false
	}
}

func validateDecimalPositive(fl validator.FieldLevel) bool {
	d, ok := decimalField(fl)
	return ok && d.IsPositive()
}

func validateDecimalNotNegative(fl validator.FieldLevel) bool {
	d, ok := decimalField(fl)
	return ok && !d.IsNegative()
}

func validateDecimalNotZero(fl validator.FieldLevel) bool {
	d, ok := decimalField(fl)
	return ok && !d.IsZero()
}
