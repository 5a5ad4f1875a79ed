package ingest

import (
	"encoding/json"
	"net/url"
	"reflect"
	"testing"
)

// ========================================
// JSON Body Tests
// ========================================

func TestNormalize_FlatJSON(t *testing.T) {
	body := []byte(`{"name":"Ada","age":36,"active":true}`)

	res := Normalize(body, "application/json", nil)

	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", res.Diagnostics)
	}
	if got, _ := res.Get("name"); got != "Ada" {
		t.Errorf("name = %v, want %q", got, "Ada")
	}
	if got, _ := res.Get("age"); got != json.Number("36") {
		t.Errorf("age = %v (%T), want json.Number(36)", got, got)
	}
	if got, _ := res.Get("active"); got != true {
		t.Errorf("active = %v, want true", got)
	}
}

func TestNormalize_NestedJSONFlattensWithDots(t *testing.T) {
	body := []byte(`{"patient":{"name":"Ada","contact":{"email":"ada@example.com"}},"visit":1}`)

	res := Normalize(body, "application/json", nil)

	if got, _ := res.Get("patient.name"); got != "Ada" {
		t.Errorf("patient.name = %v, want %q", got, "Ada")
	}
	if got, _ := res.Get("patient.contact.email"); got != "ada@example.com" {
		t.Errorf("patient.contact.email = %v, want %q", got, "ada@example.com")
	}
	if _, ok := res.Get("patient"); ok {
		t.Error("intermediate object should not appear as its own key")
	}
}

func TestNormalize_KeyOrderPreserved(t *testing.T) {
	body := []byte(`{"b":1,"a":{"z":2,"y":3},"c":4}`)

	res := Normalize(body, "application/json", nil)

	want := []string{"b", "a.z", "a.y", "c"}
	if !reflect.DeepEqual(res.Keys, want) {
		t.Errorf("Keys = %v, want %v", res.Keys, want)
	}
}

func TestNormalize_ArraysStayOpaque(t *testing.T) {
	body := []byte(`{"tags":["a","b"],"items":[{"id":1}]}`)

	res := Normalize(body, "application/json", nil)

	tags, ok := res.Get("tags")
	if !ok {
		t.Fatal("tags key missing")
	}
	arr, ok := tags.([]any)
	if !ok || len(arr) != 2 {
		t.Errorf("tags = %v (%T), want 2-element array", tags, tags)
	}
	if _, ok := res.Get("tags.0"); ok {
		t.Error("array elements should not be flattened")
	}

	items, _ := res.Get("items")
	itemArr, ok := items.([]any)
	if !ok || len(itemArr) != 1 {
		t.Fatalf("items = %v (%T), want 1-element array", items, items)
	}
	obj, ok := itemArr[0].(map[string]any)
	if !ok || obj["id"] != json.Number("1") {
		t.Errorf("items[0] = %v, want object with id=1", itemArr[0])
	}
}

func TestNormalize_NullValue(t *testing.T) {
	body := []byte(`{"note":null}`)

	res := Normalize(body, "application/json", nil)

	v, ok := res.Get("note")
	if !ok {
		t.Fatal("note key missing")
	}
	if v != nil {
		t.Errorf("note = %v, want nil", v)
	}
}

func TestNormalize_MalformedJSONRecordsDiagnostic(t *testing.T) {
	body := []byte(`{"name": "Ada"`)

	res := Normalize(body, "application/json", nil)

	if len(res.Diagnostics) == 0 {
		t.Error("expected diagnostic for malformed JSON")
	}
}

func TestNormalize_NonObjectJSONRejected(t *testing.T) {
	res := Normalize([]byte(`[1,2,3]`), "application/json", nil)

	if len(res.Diagnostics) == 0 {
		t.Error("expected diagnostic for non-object payload")
	}
}

// ========================================
// Form Body Tests
// ========================================

func TestNormalize_FormBody(t *testing.T) {
	body := []byte("name=Ada+Lovelace&age=36")

	res := Normalize(body, "application/x-www-form-urlencoded", nil)

	if got, _ := res.Get("name"); got != "Ada Lovelace" {
		t.Errorf("name = %v, want %q", got, "Ada Lovelace")
	}
	// Form values stay strings
	if got, _ := res.Get("age"); got != "36" {
		t.Errorf("age = %v (%T), want string \"36\"", got, got)
	}
}

func TestNormalize_FormKeyOrderPreserved(t *testing.T) {
	body := []byte("zeta=1&alpha=2&mid=3")

	res := Normalize(body, "application/x-www-form-urlencoded", nil)

	want := []string{"zeta", "alpha", "mid"}
	if !reflect.DeepEqual(res.Keys, want) {
		t.Errorf("Keys = %v, want %v", res.Keys, want)
	}
}

func TestNormalize_FormRepeatedKeyKeepsFirst(t *testing.T) {
	body := []byte("k=first&k=second")

	res := Normalize(body, "application/x-www-form-urlencoded", nil)

	if got, _ := res.Get("k"); got != "first" {
		t.Errorf("k = %v, want %q", got, "first")
	}
}

func TestNormalize_UnknownContentTypeTriesJSONThenForm(t *testing.T) {
	jsonRes := Normalize([]byte(`{"a":1}`), "", nil)
	if got, _ := jsonRes.Get("a"); got != json.Number("1") {
		t.Errorf("JSON fallback: a = %v, want 1", got)
	}

	formRes := Normalize([]byte("a=1&b=2"), "", nil)
	if got, _ := formRes.Get("b"); got != "2" {
		t.Errorf("form fallback: b = %v, want %q", got, "2")
	}
}

// ========================================
// Query Merge Tests
// ========================================

func TestNormalize_QueryMergesAsTopLevel(t *testing.T) {
	query := url.Values{"source": {"monitor"}, "level": {"high"}}

	res := Normalize(nil, "", query)

	if got, _ := res.Get("source"); got != "monitor" {
		t.Errorf("source = %v, want %q", got, "monitor")
	}
	if got, _ := res.Get("level"); got != "high" {
		t.Errorf("level = %v, want %q", got, "high")
	}
}

func TestNormalize_QueryOverridesBody(t *testing.T) {
	body := []byte(`{"status":"from-body","other":"kept"}`)
	query := url.Values{"status": {"from-query"}}

	res := Normalize(body, "application/json", query)

	if got, _ := res.Get("status"); got != "from-query" {
		t.Errorf("status = %v, want %q (query wins)", got, "from-query")
	}
	if got, _ := res.Get("other"); got != "kept" {
		t.Errorf("other = %v, want %q", got, "kept")
	}
}

func TestNormalize_EmptyEverything(t *testing.T) {
	res := Normalize(nil, "", nil)

	if len(res.Data) != 0 || len(res.Keys) != 0 || len(res.Diagnostics) != 0 {
		t.Errorf("empty input should produce empty result, got %+v", res)
	}
}
