package web

import (
	"net/url"
	"testing"
)

func TestParseConfigJSON(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr string
		wantLen int
	}{
		{"empty means empty object", "", "", 0},
		{"whitespace means empty object", "   \n\t", "", 0},
		{"valid object", `{"region": "us-east-1", "retries": 3}`, "", 2},
		{"array rejected", `[1, 2, 3]`, "must be a JSON object", 0},
		{"scalar rejected", `"just a string"`, "must be a JSON object", 0},
		{"number rejected", `42`, "must be a JSON object", 0},
		{"malformed rejected", `{"broken":`, "invalid JSON", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, fieldErr := ParseConfigJSON(tc.in)
			if fieldErr != tc.wantErr {
				t.Fatalf("fieldErr = %q, want %q", fieldErr, tc.wantErr)
			}
			if tc.wantErr == "" {
				if obj == nil {
					t.Fatal("valid input must return a non-nil map")
				}
				if len(obj) != tc.wantLen {
					t.Fatalf("len = %d, want %d", len(obj), tc.wantLen)
				}
			}
		})
	}
}

func TestParsePrice(t *testing.T) {
	if p := ParsePrice("3.50"); !p.Valid || p.Decimal.String() != "3.5" {
		t.Fatalf("ParsePrice(3.50) = %+v", p)
	}
	if p := ParsePrice(" 15 "); !p.Valid {
		t.Fatalf("padded integer must parse, got %+v", p)
	}
	for _, bad := range []string{"", "free", "$3", "1,50"} {
		if p := ParsePrice(bad); p.Valid {
			t.Errorf("ParsePrice(%q) must be absent, got %v", bad, p.Decimal)
		}
	}
}

func TestParseOptionalInt(t *testing.T) {
	if n := ParseOptionalInt("200000"); n == nil || *n != 200000 {
		t.Fatalf("got %v", n)
	}
	if n := ParseOptionalInt(""); n != nil {
		t.Fatalf("blank must be absent, got %d", *n)
	}
	if n := ParseOptionalInt("lots"); n != nil {
		t.Fatalf("garbage must be absent, got %d", *n)
	}
}

func TestParseOptionalFloat(t *testing.T) {
	if f := ParseOptionalFloat("0.7"); f == nil || *f != 0.7 {
		t.Fatalf("got %v", f)
	}
	if f := ParseOptionalFloat("warm"); f != nil {
		t.Fatalf("garbage must be absent, got %f", *f)
	}
}

func TestFormValuesDropsSecrets(t *testing.T) {
	form := url.Values{}
	form.Set("name", "prod")
	form.Set("api_key", "sk-secret")
	form.Set("password", "hunter22")
	form.Set("base_url", "https://api.example.com")

	values := formValues(form)
	if values["name"] != "prod" || values["base_url"] != "https://api.example.com" {
		t.Fatalf("values = %v", values)
	}
	if _, ok := values["api_key"]; ok {
		t.Fatal("api_key must not echo")
	}
	if _, ok := values["password"]; ok {
		t.Fatal("password must not echo")
	}
}
