// README: Normalizes the heterogeneous upstream location encodings into TaskLocation.
package catalog

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"trail/internal/types"
)

var (
	errNoID         = errors.New("location has no id")
	errNoCoordinate = errors.New("location has no parseable coordinate")
)

// property is one value of an entity property list, e.g. {"number": 59.4} or {"string": "x"}.
type property struct {
	String    *string      `json:"string"`
	Number    *json.Number `json:"number"`
	Reference *string      `json:"reference"`
}

// Normalize converts a raw upstream location into a TaskLocation. Supported
// coordinate encodings, in order of precedence:
//
//	{"coordinates": {"lat": 59.4, "lng": 24.7}}              (also "lon"/"long")
//	{"lat": [{"number": 59.4}], "long": [{"number": 24.7}]}  (also plain numbers)
//	{"location": [{"string": "59.4,24.7"}]}                  (also a plain string)
func Normalize(raw json.RawMessage) (TaskLocation, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return TaskLocation{}, err
	}

	id := firstString(obj, "_id", "id")
	if id == "" {
		return TaskLocation{}, errNoID
	}

	pt, ok := coordinateObject(obj)
	if !ok {
		pt, ok = coordinateProperties(obj)
	}
	if !ok {
		pt, ok = coordinateString(obj)
	}
	if !ok {
		return TaskLocation{}, errNoCoordinate
	}
	if err := pt.Validate(); err != nil {
		return TaskLocation{}, err
	}

	return TaskLocation{
		ID:          types.ID(id),
		Name:        firstString(obj, "name", "title"),
		Description: firstString(obj, "description"),
		Point:       pt,
		Raw:         append(json.RawMessage(nil), raw...),
	}, nil
}

func coordinateObject(obj map[string]json.RawMessage) (types.Point, bool) {
	for _, key := range []string{"coordinates", "coordinate"} {
		v, ok := obj[key]
		if !ok {
			continue
		}
		var c map[string]json.RawMessage
		if err := json.Unmarshal(v, &c); err != nil {
			continue
		}
		lat, okLat := number(c["lat"])
		lng, okLng := firstNumber(c, "lng", "lon", "long")
		if okLat && okLng {
			return types.Point{Lat: lat, Lng: lng}, true
		}
	}
	return types.Point{}, false
}

func coordinateProperties(obj map[string]json.RawMessage) (types.Point, bool) {
	lat, okLat := firstNumber(obj, "lat", "latitude")
	lng, okLng := firstNumber(obj, "long", "lng", "lon", "longitude")
	if okLat && okLng {
		return types.Point{Lat: lat, Lng: lng}, true
	}
	return types.Point{}, false
}

func coordinateString(obj map[string]json.RawMessage) (types.Point, bool) {
	s := firstString(obj, "location", "coordinates")
	if s == "" {
		return types.Point{}, false
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return types.Point{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return types.Point{}, false
	}
	return types.Point{Lat: lat, Lng: lng}, true
}

func firstNumber(obj map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := number(obj[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if s, ok := str(obj[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

// number accepts a JSON number, a numeric string, or a property list whose
// first value holds either.
func number(v json.RawMessage) (float64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	var props []property
	if err := json.Unmarshal(v, &props); err == nil && len(props) > 0 {
		switch {
		case props[0].Number != nil:
			f, err := props[0].Number.Float64()
			return f, err == nil
		case props[0].String != nil:
			f, err := strconv.ParseFloat(strings.TrimSpace(*props[0].String), 64)
			return f, err == nil
		}
	}
	return 0, false
}

func str(v json.RawMessage) (string, bool) {
	if len(v) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	var props []property
	if err := json.Unmarshal(v, &props); err == nil && len(props) > 0 {
		switch {
		case props[0].String != nil:
			return *props[0].String, true
		case props[0].Reference != nil:
			return *props[0].Reference, true
		}
	}
	return "", false
}
