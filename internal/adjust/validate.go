package adjust

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field names the form inputs that can carry an inline error.
type Field string

const (
	FieldDirection   Field = "direction"
	FieldQuantity    Field = "quantity"
	FieldProvider    Field = "provider"
	FieldDestination Field = "destination"
	FieldCost        Field = "cost"
	FieldAPI         Field = "api"
)

// FieldErrors maps a field to the message shown next to it.
type FieldErrors map[Field]string

func (fe FieldErrors) clone() FieldErrors {
	out := make(FieldErrors, len(fe))
	for k, v := range fe {
		out[k] = v
	}
	return out
}

// InputValidationError blocks a submit until the listed fields are fixed.
type InputValidationError struct {
	Fields FieldErrors
}

func (e *InputValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[Field(k)]))
	}
	return "invalid adjustment: " + strings.Join(parts, "; ")
}

const (
	tagStock  = "lte_stock"
	tagNumber = "finite_number"
)

// form is the draft as the validator sees it. Amount and Cost are only set
// when the raw text parsed as a number.
type form struct {
	Direction     Direction `validate:"required,oneof=add remove"`
	Quantity      string    `validate:"required,finite_number"`
	Amount        *float64  `validate:"omitnil,gt=0"`
	Available     float64
	ProviderID    *int64   `validate:"required_if=Direction add"`
	DestinationID *int64   `validate:"required_if=Direction remove"`
	UnitCost      string   `validate:"omitempty,finite_number"`
	Cost          *float64 `validate:"omitnil,gte=0"`
}

// fieldOf maps form struct fields onto the inputs they belong to.
var fieldOf = map[string]Field{
	"Direction":     FieldDirection,
	"Quantity":      FieldQuantity,
	"Amount":        FieldQuantity,
	"ProviderID":    FieldProvider,
	"DestinationID": FieldDestination,
	"UnitCost":      FieldCost,
	"Cost":          FieldCost,
}

// rank orders competing errors on one field; the lowest wins, except the
// stock bound which always wins.
var rank = map[string]int{
	"required":    0,
	"required_if": 0,
	"oneof":       0,
	tagNumber:     1,
	"gt":          2,
	"gte":         2,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation(tagNumber, finiteNumber); err != nil {
		panic(err)
	}
	v.RegisterStructValidation(stockBound, form{})
	return v
}

// finiteNumber accepts whatever parseNumber accepts, so ".5", "5." and "1e2"
// pass while "NaN" and "Inf" do not.
func finiteNumber(fl validator.FieldLevel) bool {
	_, ok := parseNumber(fl.Field().String())
	return ok
}

// stockBound rejects removals larger than the quantity on hand. Taking out
// exactly what is available is allowed.
func stockBound(sl validator.StructLevel) {
	f := sl.Current().Interface().(form)
	if f.Direction == DirectionRemove && f.Amount != nil && *f.Amount > f.Available {
		sl.ReportError(*f.Amount, "Amount", "Amount", tagStock, "")
	}
}

// Validate checks draft against the rules for its direction and the stock
// currently available.
func Validate(d Draft, available float64) error {
	f := form{
		Direction:     d.Direction,
		Quantity:      strings.TrimSpace(d.Quantity),
		Available:     available,
		ProviderID:    d.ProviderID,
		DestinationID: d.DestinationID,
	}
	if d.Direction == DirectionAdd {
		f.UnitCost = strings.TrimSpace(d.UnitCost)
	}
	if n, ok := parseNumber(f.Quantity); ok {
		f.Amount = &n
	}
	if n, ok := parseNumber(f.UnitCost); ok {
		f.Cost = &n
	}

	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate adjustment: %w", err)
	}

	fields := FieldErrors{}
	tags := map[Field]string{}
	for _, fe := range verrs {
		field, ok := fieldOf[fe.StructField()]
		if !ok {
			continue
		}
		prev, seen := tags[field]
		if seen && (prev == tagStock || (fe.Tag() != tagStock && rank[fe.Tag()] >= rank[prev])) {
			continue
		}
		tags[field] = fe.Tag()
		fields[field] = message(field, fe.Tag())
	}
	return &InputValidationError{Fields: fields}
}

func message(field Field, tag string) string {
	switch field {
	case FieldDirection:
		return "Choose add or remove"
	case FieldQuantity:
		switch tag {
		case "required":
			return "Quantity is required"
		case tagNumber:
			return "Quantity must be a number"
		case tagStock:
			return "Quantity exceeds the available stock"
		default:
			return "Quantity must be greater than 0"
		}
	case FieldProvider:
		return "Select a provider"
	case FieldDestination:
		return "Select a destination for the removal"
	case FieldCost:
		if tag == tagNumber {
			return "Cost must be a number"
		}
		return "Cost must be 0 or more"
	default:
		return "Invalid value"
	}
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
