// README: Entity property encoding used by the store.
package entity

import (
	"encoding/json"
)

// Property is one typed value of an entity. Exactly one value field is set.
type Property struct {
	Type      string   `json:"type"`
	String    *string  `json:"string,omitempty"`
	Number    *float64 `json:"number,omitempty"`
	Reference *string  `json:"reference,omitempty"`
	Filename  string   `json:"filename,omitempty"`
	Filesize  int64    `json:"filesize,omitempty"`
	Filetype  string   `json:"filetype,omitempty"`
}

func stringProp(typ, v string) Property { return Property{Type: typ, String: &v} }
func numberProp(typ string, v float64) Property { return Property{Type: typ, Number: &v} }
func referenceProp(typ, v string) Property { return Property{Type: typ, Reference: &v} }

// value is the read side of a property array element.
type value struct {
	String    string   `json:"string"`
	Number    *float64 `json:"number"`
	Reference string   `json:"reference"`
}

// Entity is a decoded store entity: its id plus raw property arrays.
type Entity map[string]json.RawMessage

func (e Entity) ID() string {
	var id string
	if raw, ok := e["_id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	return id
}

func (e Entity) values(key string) []value {
	raw, ok := e[key]
	if !ok {
		return nil
	}
	var vs []value
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil
	}
	return vs
}

func (e Entity) references(key string) []string {
	var out []string
	for _, v := range e.values(key) {
		if v.Reference != "" {
			out = append(out, v.Reference)
		}
	}
	return out
}

func (e Entity) number(key string) (float64, bool) {
	for _, v := range e.values(key) {
		if v.Number != nil {
			return *v.Number, true
		}
	}
	return 0, false
}

func (e Entity) text(key string) string {
	for _, v := range e.values(key) {
		if v.String != "" {
			return v.String
		}
	}
	return ""
}

type listResponse struct {
	Entities []json.RawMessage `json:"entities"`
	Count    int               `json:"count"`
}

type getResponse struct {
	Entity Entity `json:"entity"`
}

type createResponse struct {
	ID string `json:"_id"`
}

type uploadResponse struct {
	ID         string `json:"_id"`
	Properties []struct {
		ID     string `json:"_id"`
		Upload *struct {
			URL     string            `json:"url"`
			Method  string            `json:"method"`
			Headers map[string]string `json:"headers"`
		} `json:"upload"`
	} `json:"properties"`
}
