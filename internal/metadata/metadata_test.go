package metadata

import (
	"image"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/transcoder"

	"github.com/disintegration/imaging"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestParseISO6709(t *testing.T) {
	tests := []struct {
		in       string
		lat, lon float64
		ok       bool
	}{
		{"+48.8577+002.2950+035.000/", 48.8577, 2.295, true},
		{"-33.8688+151.2093/", -33.8688, 151.2093, true},
		{"+40.6892-074.0445", 40.6892, -74.0445, true},
		{"+00.0000+000.0000/", 0, 0, false},
		{"+95.0000+010.0000/", 0, 0, false},
		{"garbage", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lat, lon, ok := ParseISO6709(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseISO6709(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && (!approx(lat, tt.lat) || !approx(lon, tt.lon)) {
				t.Errorf("ParseISO6709(%q) = %f,%f want %f,%f", tt.in, lat, lon, tt.lat, tt.lon)
			}
		})
	}
}

func TestFromProbe(t *testing.T) {
	probe := &transcoder.ProbeResult{
		Format: transcoder.Format{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			Tags: map[string]string{
				"creation_time":                        "2023-05-01T10:20:30.000000Z",
				"com.apple.quicktime.location.ISO6709": "+48.8577+002.2950+035.000/",
				"com.apple.quicktime.make":             "Apple",
				"com.apple.quicktime.model":            "iPhone 14",
			},
		},
		VideoStreams: []transcoder.VideoStream{
			{Index: 0, Width: 1920, Height: 1080, FrameCount: 10, FrameRate: 29.97002997, Rotation: -90},
			{Index: 1, Width: 320, Height: 240, FrameCount: 1},
		},
	}

	info := FromProbe(probe)
	if info.DateTimeOriginal == nil || !info.DateTimeOriginal.Equal(time.Date(2023, 5, 1, 10, 20, 30, 0, time.UTC)) {
		t.Errorf("DateTimeOriginal = %v", info.DateTimeOriginal)
	}
	if info.Latitude == nil || !approx(*info.Latitude, 48.8577) {
		t.Errorf("Latitude = %v", info.Latitude)
	}
	if info.Make == nil || *info.Make != "Apple" || info.Model == nil || *info.Model != "iPhone 14" {
		t.Errorf("Make/Model = %v/%v", info.Make, info.Model)
	}
	if info.ExifImageWidth == nil || *info.ExifImageWidth != 1920 {
		t.Errorf("width should come from the main stream, got %v", info.ExifImageWidth)
	}
	if info.FPS == nil || *info.FPS != 29.97 {
		t.Errorf("FPS = %v", info.FPS)
	}
	if info.Orientation == nil || *info.Orientation != "6" {
		t.Errorf("Orientation = %v, want 6", info.Orientation)
	}
}

func TestFromProbeMissingFields(t *testing.T) {
	tests := []struct {
		name  string
		probe *transcoder.ProbeResult
	}{
		{"nil", nil},
		{"no streams no tags", &transcoder.ProbeResult{}},
		{"epoch creation time", &transcoder.ProbeResult{Format: transcoder.Format{Tags: map[string]string{"creation_time": "1970-01-01T00:00:00.000000Z"}}}},
		{"bad creation time", &transcoder.ProbeResult{Format: transcoder.Format{Tags: map[string]string{"creation_time": "yesterday"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := FromProbe(tt.probe)
			if info == nil {
				t.Fatal("FromProbe returned nil")
			}
			if info.DateTimeOriginal != nil || info.Latitude != nil || info.FPS != nil {
				t.Errorf("expected empty record, got %+v", info)
			}
		})
	}
}

func TestRotationOrientation(t *testing.T) {
	tests := map[int]string{0: "", 90: "8", -90: "6", 270: "6", 180: "3", -180: "3", 45: ""}
	for rotation, want := range tests {
		if got := rotationOrientation(rotation); got != want {
			t.Errorf("rotationOrientation(%d) = %q, want %q", rotation, got, want)
		}
	}
}

const attributeXMP = `<?xml version="1.0" encoding="UTF-8"?>
<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about=""
    xmlns:exif="http://ns.adobe.com/exif/1.0/"
    xmlns:xmp="http://ns.adobe.com/xap/1.0/"
    exif:DateTimeOriginal="2021-07-04T18:30:00+02:00"
    xmp:CreateDate="2020-01-01T00:00:00"
    exif:GPSLatitude="48,51.4200N"
    exif:GPSLongitude="2,21.0600E"/>
 </rdf:RDF>
</x:xmpmeta>`

const elementXMP = `<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:photoshop="http://ns.adobe.com/photoshop/1.0/" xmlns:exif="http://ns.adobe.com/exif/1.0/">
   <photoshop:DateCreated>2019-12-24</photoshop:DateCreated>
   <exif:GPSLatitude>33,52,7.68S</exif:GPSLatitude>
   <exif:GPSLongitude>151,12,33.48E</exif:GPSLongitude>
   <dc:description>
    <rdf:Alt>
     <rdf:li xml:lang="x-default">Harbour at dusk</rdf:li>
    </rdf:Alt>
   </dc:description>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>`

func TestParseXMP(t *testing.T) {
	t.Run("attributes", func(t *testing.T) {
		sc, err := parseXMP(strings.NewReader(attributeXMP))
		if err != nil {
			t.Fatalf("parseXMP() error = %v", err)
		}
		want := time.Date(2021, 7, 4, 16, 30, 0, 0, time.UTC)
		if sc.DateTimeOriginal == nil || !sc.DateTimeOriginal.Equal(want) {
			t.Errorf("DateTimeOriginal = %v, want %v", sc.DateTimeOriginal, want)
		}
		if sc.Latitude == nil || !approx(*sc.Latitude, 48.857) || !approx(*sc.Longitude, 2.351) {
			t.Errorf("coordinates = %v,%v", sc.Latitude, sc.Longitude)
		}
		if sc.Description != nil {
			t.Errorf("Description = %q, want nil", *sc.Description)
		}
	})

	t.Run("elements", func(t *testing.T) {
		sc, err := parseXMP(strings.NewReader(elementXMP))
		if err != nil {
			t.Fatalf("parseXMP() error = %v", err)
		}
		if sc.DateTimeOriginal == nil || !sc.DateTimeOriginal.Equal(time.Date(2019, 12, 24, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("DateTimeOriginal = %v", sc.DateTimeOriginal)
		}
		if sc.Latitude == nil || !approx(*sc.Latitude, -(33+52.0/60+7.68/3600)) {
			t.Errorf("Latitude = %v", sc.Latitude)
		}
		if sc.Description == nil || *sc.Description != "Harbour at dusk" {
			t.Errorf("Description = %v", sc.Description)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := parseXMP(strings.NewReader("<x:xmpmeta><unclosed>")); err == nil {
			t.Error("expected error for truncated XML")
		}
	})
}

func TestSidecarApply(t *testing.T) {
	embedded := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	override := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	cameraMake := "Canon"
	info := &database.ExifInfo{DateTimeOriginal: &embedded, Make: &cameraMake}

	lat, lon := 1.5, 2.5
	(&Sidecar{DateTimeOriginal: &override, Latitude: &lat, Longitude: &lon}).Apply(info)

	if !info.DateTimeOriginal.Equal(override) {
		t.Errorf("sidecar date should win, got %v", info.DateTimeOriginal)
	}
	if info.Latitude == nil || *info.Latitude != lat {
		t.Errorf("Latitude = %v", info.Latitude)
	}
	if info.Make == nil || *info.Make != "Canon" {
		t.Error("fields absent from the sidecar must be kept")
	}

	var nilSidecar *Sidecar
	nilSidecar.Apply(info)
}

func TestParseXMPCoordinate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"48,51.42N", 48.857, true},
		{"2,21,3.6W", -(2 + 21.0/60 + 3.6/3600), true},
		{"-12.5", -12.5, true},
		{"48,51.42X", 0, false},
		{"N", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseXMPCoordinate(tt.in)
		if ok != tt.ok || (ok && !approx(got, tt.want)) {
			t.Errorf("parseXMPCoordinate(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseExifTime(t *testing.T) {
	got, err := parseExifTime("2022:08:15 07:45:12")
	if err != nil || !got.Equal(time.Date(2022, 8, 15, 7, 45, 12, 0, time.UTC)) {
		t.Errorf("parseExifTime() = %v, %v", got, err)
	}
	for _, bad := range []string{"0000:00:00 00:00:00", "   ", "not a date"} {
		if _, err := parseExifTime(bad); err == nil {
			t.Errorf("parseExifTime(%q) should fail", bad)
		}
	}
}

func TestFormatExposure(t *testing.T) {
	tests := []struct {
		num, den int64
		want     string
	}{
		{1, 250, "1/250"},
		{10, 2500, "1/250"},
		{2, 1, "2"},
		{5, 2, "2.5"},
		{3, 10, "3/10"},
	}
	for _, tt := range tests {
		if got := formatExposure(tt.num, tt.den); got != tt.want {
			t.Errorf("formatExposure(%d, %d) = %q, want %q", tt.num, tt.den, got, tt.want)
		}
	}
}

func TestReadImageWithoutExif(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	if err := imaging.Save(image.NewRGBA(image.Rect(0, 0, 8, 8)), path); err != nil {
		t.Fatal(err)
	}
	info, err := ReadImage(path)
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	if info.Make != nil || info.DateTimeOriginal != nil || info.Latitude != nil {
		t.Errorf("expected empty record, got %+v", info)
	}

	if _, err := ReadImage(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}
