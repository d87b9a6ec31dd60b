package remote

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// decodeValues splits a post's values map into Value rows. Each entry is a
// list of which the first element is kept. A {lat, lon} element becomes the
// text "lat,lon" and is also set as the post's location.
func decodeValues(p *schema.Post, values gjson.Result) ([]*schema.Value, error) {
	if !values.Exists() || values.Type == gjson.Null {
		return nil, nil
	}
	// An empty map is serialized as [] by the API.
	if values.IsArray() && len(values.Array()) == 0 {
		return nil, nil
	}
	if !values.IsObject() {
		return nil, errs.Invalid("values", "post %d: expected an object, got %s", p.ID, values.Type)
	}

	var (
		out []*schema.Value
		err error
	)
	values.ForEach(func(key, entry gjson.Result) bool {
		v := &schema.Value{DeploymentID: p.DeploymentID, PostID: p.ID, Key: key.String()}

		first := entry
		if entry.IsArray() {
			first = entry.Get("0")
		}

		switch {
		case !first.Exists() || first.Type == gjson.Null:
		case first.IsObject():
			lat, lon := first.Get("lat"), first.Get("lon")
			if lat.Type != gjson.Number || lon.Type != gjson.Number {
				err = errs.Invalid("values."+v.Key, "post %d: object value is not a location", p.ID)
				return false
			}
			v.Value = schema.FormatCoordinates(lat.Float(), lon.Float())
			p.SetLocation(lat.Float(), lon.Float())
		case first.IsArray():
			err = errs.Invalid("values."+v.Key, "post %d: nested list value", p.ID)
			return false
		default:
			v.Value = first.String()
		}

		out = append(out, v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// encodeValues renders values the way the API accepts them on submit.
func encodeValues(values []*schema.Value) (map[string][]any, error) {
	out := make(map[string][]any, len(values))
	for _, v := range values {
		encoded, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		out[v.Key] = encoded
	}
	return out, nil
}

// encodeValue applies the per input rules: empty text is an empty list,
// numbers and media ids are a single number, "lat,lon" locations are a
// single {lat, lon} object, and anything else is a single string.
//
// A video value holds the hosted URL once uploaded and is then sent as text.
func encodeValue(v *schema.Value) ([]any, error) {
	text := strings.TrimSpace(v.Value)
	if text == "" {
		return []any{}, nil
	}

	switch v.Input {
	case schema.InputNumber, schema.InputUpload, schema.InputVideo:
		n, err := strconv.ParseFloat(text, 64)
		if err == nil {
			return []any{n}, nil
		}
		if v.Input == schema.InputVideo && !v.IsLocalFile() {
			return []any{text}, nil
		}
		return nil, errs.Invalid(v.Key, "%s value %q is not numeric", v.Input, v.Value)
	case schema.InputLocation:
		if lat, lon, ok := v.Coordinates(); ok {
			return []any{location{Lat: lat, Lon: lon}}, nil
		}
		return []any{v.Value}, nil
	default:
		return []any{v.Value}, nil
	}
}

type ref struct {
	ID int64 `json:"id"`
}

type postBody struct {
	Source  string           `json:"source,omitempty"`
	User    *ref             `json:"user,omitempty"`
	Form    *ref             `json:"form,omitempty"`
	Title   string           `json:"title"`
	Content string           `json:"content"`
	Values  map[string][]any `json:"values"`
}

func newPostBody(p *schema.Post) (*postBody, error) {
	values, err := encodeValues(p.Values)
	if err != nil {
		return nil, err
	}
	return &postBody{Title: p.Title, Content: p.Description, Values: values}, nil
}
