package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTemplate is the storage template used when none is configured.
const DefaultTemplate = "{{y}}/{{y}}-{{MM}}-{{dd}}/{{filename}}"

var tokenPattern = regexp.MustCompile(`{{\s*([A-Za-z]+)\s*}}`)

var knownTokens = map[string]bool{
	"y": true, "yy": true, "MM": true, "MMM": true, "dd": true,
	"HH": true, "mm": true, "ss": true,
	"filename": true, "ext": true, "assetId": true,
}

// TemplateInput holds the asset attributes a template may reference.
type TemplateInput struct {
	AssetID          string
	OriginalFileName string
	CreatedAt        time.Time
}

// ValidateTemplate checks that a template only uses known tokens, names the
// file uniquely and cannot escape the owner's upload folder.
func ValidateTemplate(tmpl string) error {
	if strings.TrimSpace(tmpl) == "" {
		return errors.New("storage template is empty")
	}
	if filepath.IsAbs(tmpl) {
		return fmt.Errorf("storage template %q must be relative", tmpl)
	}
	for _, m := range tokenPattern.FindAllStringSubmatch(tmpl, -1) {
		if !knownTokens[m[1]] {
			return fmt.Errorf("storage template has unknown token {{%s}}", m[1])
		}
	}
	if !strings.Contains(tmpl, "{{filename}}") && !strings.Contains(tmpl, "{{assetId}}") {
		return errors.New("storage template must contain {{filename}} or {{assetId}}")
	}
	for _, seg := range strings.Split(tmpl, "/") {
		if seg == ".." {
			return fmt.Errorf("storage template %q may not contain '..'", tmpl)
		}
	}
	return nil
}

// RenderTemplate expands tmpl for one asset and returns a relative path with
// the original extension appended.
func RenderTemplate(tmpl string, in TemplateInput) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(in.OriginalFileName), "."))
	name := sanitize(strings.TrimSuffix(in.OriginalFileName, filepath.Ext(in.OriginalFileName)))
	if name == "" {
		name = in.AssetID
	}
	t := in.CreatedAt.UTC()

	values := map[string]string{
		"y":        fmt.Sprintf("%04d", t.Year()),
		"yy":       fmt.Sprintf("%02d", t.Year()%100),
		"MM":       fmt.Sprintf("%02d", int(t.Month())),
		"MMM":      t.Month().String()[:3],
		"dd":       fmt.Sprintf("%02d", t.Day()),
		"HH":       fmt.Sprintf("%02d", t.Hour()),
		"mm":       fmt.Sprintf("%02d", t.Minute()),
		"ss":       fmt.Sprintf("%02d", t.Second()),
		"filename": name,
		"ext":      ext,
		"assetId":  in.AssetID,
	}

	rendered := tokenPattern.ReplaceAllStringFunc(tmpl, func(tok string) string {
		key := tokenPattern.FindStringSubmatch(tok)[1]
		if v, ok := values[key]; ok {
			return v
		}
		return ""
	})
	rendered = filepath.Clean("/" + rendered)[1:]
	if ext != "" {
		rendered += "." + ext
	}
	return rendered
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
}

// OriginalPath renders the template under the owner's upload folder. It
// fails for owner ids that are not a single path segment and for results
// outside that folder.
func (r Resolver) OriginalPath(tmpl, ownerID string, in TemplateInput) (string, error) {
	if err := ValidateOwnerID(ownerID); err != nil {
		return "", err
	}
	folder := r.FolderLocation(FolderUpload, ownerID)
	path := filepath.Join(folder, RenderTemplate(tmpl, in))
	if !within(folder, path) {
		return "", fmt.Errorf("storage template %q renders %s outside %s", tmpl, path, folder)
	}
	return path, nil
}

// Suffixed returns path for n == 0 and otherwise path with a "+n" suffix
// before the extension.
func Suffixed(path string, n int) string {
	if n == 0 {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "+" + strconv.Itoa(n) + ext
}

// IsVariant reports whether path is base or one of the names Suffixed
// derives from it.
func IsVariant(path, base string) bool {
	if path == base {
		return true
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext) + "+"
	if !strings.HasPrefix(path, stem) || !strings.HasSuffix(path, ext) {
		return false
	}
	n := strings.TrimSuffix(strings.TrimPrefix(path, stem), ext)
	if n == "" || n[0] < '1' || n[0] > '9' {
		return false
	}
	_, err := strconv.Atoi(n)
	return err == nil
}
