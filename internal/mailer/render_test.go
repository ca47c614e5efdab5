package mailer

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePayload(t *testing.T) {
	long := strings.Repeat("x", minPayloadLen)

	cases := []struct {
		name  string
		html  string
		title string
		ok    bool
	}{
		{"valid", "<html><body><h1>News</h1>" + long + "</body></html>", "News", true},
		{"too short", "<html></html>", "News", false},
		{"no markers", "<div>" + long + "</div>", "", false},
		{"unclosed document", "<html><body>" + long, "", false},
		{"title missing", "<html><body>" + long + "</body></html>", "News", false},
		{"escaped title", "<html><body><h1>Q&amp;A</h1>" + long + "</body></html>", "Q&A", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePayload(tc.html, tc.title)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrInvalidContent) {
					t.Fatalf("err = %v, want ErrInvalidContent", err)
				}
			}
		})
	}
}

func TestTemplateRendererOutputValidates(t *testing.T) {
	r, err := NewTemplateRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	img := "https://example.com/cover.png"
	html, err := r.Render("Opening Hours & Holidays", "We are closed on Friday.", &img, []string{"https://example.com"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if err := validatePayload(html, "Opening Hours & Holidays"); err != nil {
		t.Fatalf("rendered payload failed validation: %v", err)
	}
	if !strings.Contains(html, img) {
		t.Fatalf("image url missing from payload")
	}
	if strings.Contains(html, "Opening Hours & Holidays") {
		t.Fatalf("title not escaped")
	}
}

func TestRendererIsDeterministic(t *testing.T) {
	r, err := NewTemplateRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	a, err := r.Render("T", "body", nil, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	b, _ := r.Render("T", "body", nil, nil)
	if a != b {
		t.Fatalf("renderer output not deterministic")
	}
}
