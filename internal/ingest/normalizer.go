// Package ingest converts raw inbound request payloads into the flat
// key/value form the mapping engine consumes.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Result is a normalized payload. Data holds the flattened values; Keys
// preserves first-seen order from a depth-first walk of the source object.
// Diagnostics records parse problems; normalization itself never fails.
type Result struct {
	Data        map[string]any
	Keys        []string
	Diagnostics []string
}

// Get returns the value at a flattened key.
func (r *Result) Get(key string) (any, bool) {
	v, ok := r.Data[key]
	return v, ok
}

func (r *Result) put(key string, value any) {
	if _, seen := r.Data[key]; !seen {
		r.Keys = append(r.Keys, key)
	}
	r.Data[key] = value
}

// Normalize converts a request body and query parameters into a flat map.
//
// JSON bodies are flattened with dot-notation keys; nested objects recurse,
// arrays stay opaque at their key. Bodies that fail to parse as JSON fall
// back to form decoding. Query parameters merge in last as top-level string
// keys and take precedence over body-derived keys of the same name.
func Normalize(rawBody []byte, contentType string, query url.Values) *Result {
	res := &Result{Data: make(map[string]any)}

	body := bytes.TrimSpace(rawBody)
	if len(body) > 0 {
		switch {
		case strings.Contains(contentType, "json"):
			if err := flattenJSON(body, res); err != nil {
				res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("json parse failed: %v", err))
				parseForm(string(body), res)
			}
		case strings.Contains(contentType, "x-www-form-urlencoded"):
			parseForm(string(body), res)
		default:
			// Content type absent or ambiguous: try JSON first, fall back
			// to form pairs.
			if err := flattenJSON(body, res); err != nil {
				parseForm(string(body), res)
			}
		}
	}

	mergeQuery(query, res)

	return res
}

// flattenJSON walks the body with a token decoder so key order is the order
// the sender wrote. Numbers come through as json.Number; the mapping engine
// coerces them.
func flattenJSON(body []byte, res *Result) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("payload is not a JSON object")
	}

	if err := flattenObject(dec, "", res); err != nil {
		return err
	}

	// Reject trailing garbage after the closing brace.
	if _, err := dec.Token(); err == nil {
		return fmt.Errorf("unexpected data after JSON object")
	}
	return nil
}

// flattenObject consumes the members of an object whose opening brace has
// already been read, writing values under prefix.
func flattenObject(dec *json.Decoder, prefix string, res *Result) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", keyTok)
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{':
				if err := flattenObject(dec, path, res); err != nil {
					return err
				}
			case '[':
				arr, err := decodeArray(dec)
				if err != nil {
					return err
				}
				res.put(path, arr)
			}
		default:
			res.put(path, tok)
		}
	}

	// Consume the closing brace.
	_, err := dec.Token()
	return err
}

// decodeArray reads an array whose opening bracket has been consumed and
// returns it as an opaque value.
func decodeArray(dec *json.Decoder) ([]any, error) {
	arr := []any{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	// Closing bracket.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

// decodeValue reads one complete JSON value of any shape.
func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := map[string]any{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		return decodeArray(dec)
	}
	return nil, fmt.Errorf("unexpected delimiter %v", delim)
}

// parseForm decodes key=value pairs. Values stay strings; repeated keys keep
// their first value.
func parseForm(body string, res *Result) {
	values, err := url.ParseQuery(body)
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("form parse failed: %v", err))
		return
	}
	// url.ParseQuery returns a map; re-scan the raw body so key order
	// follows the wire order.
	seen := make(map[string]bool)
	for _, pair := range strings.Split(body, "&") {
		key := pair
		if i := strings.Index(pair, "="); i >= 0 {
			key = pair[:i]
		}
		decoded, err := url.QueryUnescape(key)
		if err != nil || decoded == "" || seen[decoded] {
			continue
		}
		seen[decoded] = true
		if vs, ok := values[decoded]; ok && len(vs) > 0 {
			res.put(decoded, vs[0])
		}
	}
}

// mergeQuery overlays query parameters as top-level string keys, taking
// precedence over body-derived values.
func mergeQuery(query url.Values, res *Result) {
	if len(query) == 0 {
		return
	}
	// Sort for determinism; url.Values iteration order is random.
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vs := query[k]
		if len(vs) == 0 {
			continue
		}
		res.put(k, vs[0])
	}
}
