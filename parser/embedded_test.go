package parser

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const marker = "window.__APOLLO_STATE__"

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr error
	}{
		{
			name: "simple assignment",
			text: `window.__APOLLO_STATE__ = {"a":1};`,
			want: `{"a":1}`,
		},
		{
			name: "nested objects",
			text: `window.__APOLLO_STATE__={"a":{"b":{"c":{}}},"d":2}; var x = {};`,
			want: `{"a":{"b":{"c":{}}},"d":2}`,
		},
		{
			name: "braces inside strings",
			text: `window.__APOLLO_STATE__ = {"name":"}{ Gas {& Go}","x":1}`,
			want: `{"name":"}{ Gas {& Go}","x":1}`,
		},
		{
			name: "escaped quotes",
			text: `window.__APOLLO_STATE__ = {"name":"Joe's \"Best}\" Fuel","y":{"z":"\\"}}tail`,
			want: `{"name":"Joe's \"Best}\" Fuel","y":{"z":"\\"}}`,
		},
		{
			name: "unicode",
			text: "window.__APOLLO_STATE__ = {\"name\":\"Caf\u00e9 \u26fd \\u007b\",\"k\":\"\u65e5\u672c\"};",
			want: "{\"name\":\"Caf\u00e9 \u26fd \\u007b\",\"k\":\"\u65e5\u672c\"}",
		},
		{
			name:    "missing marker",
			text:    `var other = {"a":1}`,
			wantErr: ErrMarkerNotFound,
		},
		{
			name:    "unterminated",
			text:    `window.__APOLLO_STATE__ = {"a":{"b":1}`,
			wantErr: ErrUnterminatedObject,
		},
		{
			name:    "unterminated string",
			text:    `window.__APOLLO_STATE__ = {"a":"}}}`,
			wantErr: ErrUnterminatedObject,
		},
		{
			name:    "no object after marker",
			text:    `window.__APOLLO_STATE__ = null;`,
			wantErr: ErrUnterminatedObject,
		},
		{
			name:    "object belongs to something else",
			text:    `window.__APOLLO_STATE__ = foo({"a":1})`,
			wantErr: ErrUnterminatedObject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractObject(tt.text, marker)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ExtractObject() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractObject() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ExtractObject() = %q, want %q", got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Fatalf("extracted object is not valid JSON: %s", got)
			}
		})
	}
}

func TestFindEmbeddedState(t *testing.T) {
	html := `<html><head>
<script>var analytics = {"x": 1};</script>
<script>
  window.__APOLLO_STATE__ = {"Station:1":{"id":"1","name":"A <b> }"}};
  window.other = {};
</script>
</head><body></body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	got, err := FindEmbeddedState(doc, marker)
	if err != nil {
		t.Fatalf("FindEmbeddedState() error: %v", err)
	}
	want := `{"Station:1":{"id":"1","name":"A <b> }"}}`
	if got != want {
		t.Fatalf("FindEmbeddedState() = %q, want %q", got, want)
	}
}

func TestFindEmbeddedStateMissing(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><script>var a = 1;</script></html>`))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	if _, err := FindEmbeddedState(doc, marker); !errors.Is(err, ErrMarkerNotFound) {
		t.Fatalf("expected ErrMarkerNotFound, got %v", err)
	}
}
