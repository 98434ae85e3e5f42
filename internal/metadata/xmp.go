package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"media-pipeline/internal/database"
)

// Sidecar holds the XMP fields that override embedded metadata.
type Sidecar struct {
	DateTimeOriginal *time.Time
	Latitude         *float64
	Longitude        *float64
	Description      *string
}

var xmpDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
	exifTimeLayout,
}

// date properties in order of preference
var xmpDateProps = []string{"DateTimeOriginal", "DateCreated", "CreateDate"}

// ReadSidecar parses an XMP sidecar file.
func ReadSidecar(path string) (*Sidecar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseXMP(f)
}

// parseXMP collects properties written either as rdf:Description
// attributes or as child elements.
func parseXMP(r io.Reader) (*Sidecar, error) {
	props := make(map[string]string)
	dec := xml.NewDecoder(r)
	var stack []string

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xmp: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			for _, a := range t.Attr {
				setProp(props, a.Name.Local, a.Value)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" || len(stack) == 0 {
				continue
			}
			// dc:description wraps its text in rdf:Alt/rdf:li
			name := stack[len(stack)-1]
			if name == "li" {
				for i := len(stack) - 2; i >= 0; i-- {
					if stack[i] != "Alt" && stack[i] != "Seq" && stack[i] != "Bag" {
						name = stack[i]
						break
					}
				}
			}
			setProp(props, name, text)
		}
	}

	sc := &Sidecar{}
	for _, key := range xmpDateProps {
		if v, ok := props[key]; ok {
			if t, ok := parseXMPDate(v); ok {
				sc.DateTimeOriginal = &t
				break
			}
		}
	}
	lat, latOK := parseXMPCoordinate(props["GPSLatitude"])
	lon, lonOK := parseXMPCoordinate(props["GPSLongitude"])
	if latOK && lonOK && validCoordinates(lat, lon) {
		sc.Latitude, sc.Longitude = &lat, &lon
	}
	if v := props["description"]; v != "" {
		sc.Description = &v
	}
	return sc, nil
}

// setProp keeps the first value seen for a property.
func setProp(props map[string]string, name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if _, ok := props[name]; !ok {
		props[name] = value
	}
}

// Apply overrides info with the fields present in the sidecar.
func (s *Sidecar) Apply(info *database.ExifInfo) {
	if s == nil || info == nil {
		return
	}
	if s.DateTimeOriginal != nil {
		info.DateTimeOriginal = s.DateTimeOriginal
	}
	if s.Latitude != nil && s.Longitude != nil {
		info.Latitude, info.Longitude = s.Latitude, s.Longitude
	}
	if s.Description != nil {
		info.Description = s.Description
	}
}

func parseXMPDate(s string) (time.Time, bool) {
	for _, layout := range xmpDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseXMPCoordinate reads the XMP GPSCoordinate forms "DDD,MM,SSk" and
// "DDD,MM.mmk" where k is N, S, E or W. Plain decimal degrees are accepted
// too.
func parseXMPCoordinate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}

	sign := 1.0
	switch s[len(s)-1] {
	case 'S', 's', 'W', 'w':
		sign = -1
		s = s[:len(s)-1]
	case 'N', 'n', 'E', 'e':
		s = s[:len(s)-1]
	default:
		return 0, false
	}

	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var value float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, false
		}
		value += v / []float64{1, 60, 3600}[i]
	}
	return sign * value, true
}
