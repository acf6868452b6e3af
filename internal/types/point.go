// README: Coordinate value object with bounds validation.
package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"trail/internal/apperr"
)

var validate = validator.New()

// Point is an immutable WGS84 coordinate. Accuracy is the reported
// horizontal accuracy radius in meters, nil when unknown.
type Point struct {
	Lat      float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lng      float64  `json:"lng" validate:"gte=-180,lte=180"`
	Accuracy *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

func (p Point) Validate() error {
	const op = "types.point.validate"

	fields := map[string]string{}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		fields["lat"] = "must be a finite number"
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		fields["lng"] = "must be a finite number"
	}
	if len(fields) == 0 {
		err := validate.Struct(p)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[jsonName(fe.Field())] = describe(fe)
			}
		} else if err != nil {
			return err
		}
	}
	if len(fields) > 0 {
		return apperr.Invalid(op, "invalid coordinate", fields)
	}
	return nil
}

// WithinDelta reports whether both axes of p and q differ by less than deg degrees.
func (p Point) WithinDelta(q Point, deg float64) bool {
	return math.Abs(p.Lat-q.Lat) < deg && math.Abs(p.Lng-q.Lng) < deg
}

func jsonName(field string) string {
	switch field {
	case "Lat":
		return "lat"
	case "Lng":
		return "lng"
	case "Accuracy":
		return "accuracy"
	}
	return field
}

func describe(fe validator.FieldError) string {
	switch fe.Field() {
	case "Lat":
		return "must be between -90 and 90"
	case "Lng":
		return "must be between -180 and 180"
	case "Accuracy":
		return "must be >= 0"
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}
