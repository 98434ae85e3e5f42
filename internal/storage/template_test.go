package storage

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		tmpl    string
		wantErr bool
	}{
		{DefaultTemplate, false},
		{"{{y}}/{{MMM}}/{{assetId}}", false},
		{"{{ y }}/{{filename}}", false},
		{"", true},
		{"/abs/{{filename}}", true},
		{"{{y}}/{{weekday}}/{{filename}}", true},
		{"{{y}}/{{MM}}", true},
		{"../{{filename}}", true},
	}

	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			err := ValidateTemplate(tt.tmpl)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTemplate(%q) error = %v, wantErr %v", tt.tmpl, err, tt.wantErr)
			}
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	created := time.Date(2023, time.March, 7, 14, 5, 9, 0, time.UTC)
	in := TemplateInput{AssetID: "a-1", OriginalFileName: "IMG_0001.JPG", CreatedAt: created}

	tests := []struct {
		tmpl string
		want string
	}{
		{DefaultTemplate, "2023/2023-03-07/IMG_0001.jpg"},
		{"{{yy}}{{MMM}}/{{HH}}{{mm}}{{ss}}-{{assetId}}", "23Mar/140509-a-1.jpg"},
		{"{{y}}//{{filename}}", "2023/IMG_0001.jpg"},
	}
	for _, tt := range tests {
		if got := RenderTemplate(tt.tmpl, in); got != tt.want {
			t.Errorf("RenderTemplate(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestRenderTemplateSanitizesFileName(t *testing.T) {
	in := TemplateInput{AssetID: "id", OriginalFileName: `a\b.mov`, CreatedAt: time.Unix(0, 0)}
	if got := RenderTemplate("{{filename}}", in); got != "a_b.mov" {
		t.Errorf("RenderTemplate() = %q", got)
	}
}

func TestOriginalPath(t *testing.T) {
	r := NewResolver("/data", LayoutNested)
	in := TemplateInput{AssetID: "id", OriginalFileName: "clip.mp4", CreatedAt: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)}
	want := "/data/upload/u1/2020/2020-01-02/clip.mp4"
	got, err := r.OriginalPath(DefaultTemplate, "u1", in)
	if err != nil || got != want {
		t.Errorf("OriginalPath() = %q, %v, want %q", got, err, want)
	}
}

func TestOriginalPathRejectsEscapingOwner(t *testing.T) {
	r := NewResolver("/media", LayoutFlat)
	in := TemplateInput{AssetID: "id", OriginalFileName: "cron.jpg", CreatedAt: time.Unix(0, 0)}
	for _, owner := range []string{"../../etc", "..", ".", "", "a/b", `a\b`, "a\x00b"} {
		got, err := r.OriginalPath(DefaultTemplate, owner, in)
		if !errors.Is(err, ErrInvalidOwner) {
			t.Errorf("OriginalPath(owner %q) = %q, %v, want ErrInvalidOwner", owner, got, err)
		}
	}
}

func TestValidateOwnerID(t *testing.T) {
	for _, id := range []string{"user1", "0c9a7d5e-5f27-4c6e-9a53-0d0ab2bd4a21", "..hidden"} {
		if err := ValidateOwnerID(id); err != nil {
			t.Errorf("ValidateOwnerID(%q) = %v", id, err)
		}
	}
}

func TestSuffixed(t *testing.T) {
	tests := []struct {
		path string
		n    int
		want string
	}{
		{"/u/a.jpg", 0, "/u/a.jpg"},
		{"/u/a.jpg", 2, "/u/a+2.jpg"},
		{"/u/noext", 1, "/u/noext+1"},
	}
	for _, tt := range tests {
		if got := Suffixed(tt.path, tt.n); got != tt.want {
			t.Errorf("Suffixed(%q, %d) = %q, want %q", tt.path, tt.n, got, tt.want)
		}
	}
}

func TestIsVariant(t *testing.T) {
	tests := []struct {
		path, base string
		want       bool
	}{
		{"/u/a.jpg", "/u/a.jpg", true},
		{"/u/a+2.jpg", "/u/a.jpg", true},
		{"/u/a+12.jpg", "/u/a.jpg", true},
		{"/u/noext+1", "/u/noext", true},
		{"/u/a+0.jpg", "/u/a.jpg", false},
		{"/u/a+-1.jpg", "/u/a.jpg", false},
		{"/u/a+x.jpg", "/u/a.jpg", false},
		{"/u/a+.jpg", "/u/a.jpg", false},
		{"/u/a+2.png", "/u/a.jpg", false},
		{"/v/a.jpg", "/u/a.jpg", false},
	}
	for _, tt := range tests {
		if got := IsVariant(tt.path, tt.base); got != tt.want {
			t.Errorf("IsVariant(%q, %q) = %v, want %v", tt.path, tt.base, got, tt.want)
		}
	}
}
