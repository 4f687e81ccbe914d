package crypto

import (
	"encoding/json"
	"testing"
)

func TestCanonicalizeJSON_SortsKeysAndDropsWhitespace(t *testing.T) {
	input := []byte(`{ "b": 1, "a": {"z": true, "y": null}, "c": [3, "x"] }`)
	got, err := CanonicalizeJSON(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"y":null,"z":true},"b":1,"c":[3,"x"]}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeJSON_Numbers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `1.0`, want: `1`},
		{in: `-0`, want: `0`},
		{in: `1e21`, want: `1e+21`},
		{in: `1e20`, want: `100000000000000000000`},
		{in: `0.0000001`, want: `1e-7`},
		{in: `0.000001`, want: `0.000001`},
		{in: `123.456`, want: `123.456`},
		{in: `-42`, want: `-42`},
	}
	for _, tt := range tests {
		got, err := CanonicalizeJSON([]byte(tt.in))
		if err != nil {
			t.Fatalf("canonicalize %s: %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Fatalf("canonicalize %s: expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestCanonicalizeJSON_StringEscapes(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`"line\nbreak \u0001 \"q\" é"`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := "\"line\\nbreak \\u0001 \\\"q\\\" é\""
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeJSON_RejectsTrailingData(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
	if _, err := CanonicalizeJSON([]byte(`{"a":`)); err == nil {
		t.Fatal("expected invalid json error")
	}
}

func TestCanonicalizeAny_NestedRawMessage(t *testing.T) {
	got, err := CanonicalizeAny(map[string]any{
		"state": json.RawMessage(`{"role":"steward", "dues": 12.50}`),
		"id":    "p1",
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"id":"p1","state":{"dues":12.5,"role":"steward"}}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestCanonicalizeAny_Struct(t *testing.T) {
	type member struct {
		Name  string `json:"name"`
		Local int    `json:"local"`
	}
	got, err := CanonicalizeAny(member{Name: "Ada", Local: 7})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != `{"local":7,"name":"Ada"}` {
		t.Fatalf("unexpected canonical struct: %s", got)
	}
}
