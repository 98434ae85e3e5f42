package metadata

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/transcoder"
)

var creationTags = []string{"com.apple.quicktime.creationdate", "creation_time", "date"}

var locationTags = []string{"com.apple.quicktime.location.ISO6709", "location", "location-eng"}

var iso6709Pattern = regexp.MustCompile(`^([+-]\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)`)

var videoTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// FromProbe builds an EXIF record for a video from ffprobe output.
func FromProbe(probe *transcoder.ProbeResult) *database.ExifInfo {
	info := &database.ExifInfo{}
	if probe == nil {
		return info
	}
	tags := lowerKeys(probe.Format.Tags)

	if v := firstTag(tags, creationTags); v != "" {
		if t, ok := parseVideoTime(v); ok {
			info.DateTimeOriginal = &t
		}
	}
	if v := firstTag(tags, locationTags); v != "" {
		if lat, lon, ok := ParseISO6709(v); ok {
			info.Latitude, info.Longitude = &lat, &lon
		}
	}
	if v := firstTag(tags, []string{"com.apple.quicktime.make", "make"}); v != "" {
		info.Make = ptr(v)
	}
	if v := firstTag(tags, []string{"com.apple.quicktime.model", "model"}); v != "" {
		info.Model = ptr(v)
	}
	if v := firstTag(tags, []string{"description", "comment"}); v != "" {
		info.Description = ptr(v)
	}

	if video := transcoder.MainStream(probe.VideoStreams); video != nil {
		if video.Width > 0 && video.Height > 0 {
			w, h := int64(video.Width), int64(video.Height)
			info.ExifImageWidth, info.ExifImageHeight = &w, &h
		}
		if video.FrameRate > 0 {
			fps := math.Round(video.FrameRate*1000) / 1000
			info.FPS = &fps
		}
		if o := rotationOrientation(video.Rotation); o != "" {
			info.Orientation = ptr(o)
		}
	}
	return info
}

// ParseISO6709 reads the leading latitude and longitude of an ISO 6709
// string such as "+48.8577+002.2950+035.000/".
func ParseISO6709(s string) (lat, lon float64, ok bool) {
	m := iso6709Pattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || !validCoordinates(lat, lon) {
		return 0, 0, false
	}
	return lat, lon, true
}

func parseVideoTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range videoTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			// muxers without a clock write the epoch
			if t.Year() <= 1970 {
				return time.Time{}, false
			}
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// rotationOrientation maps a display rotation to the EXIF orientation a
// still with the same rotation would carry.
func rotationOrientation(rotation int) string {
	switch ((rotation % 360) + 360) % 360 {
	case 90:
		return "8"
	case 180:
		return "3"
	case 270:
		return "6"
	}
	return ""
}

func lowerKeys(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[strings.ToLower(k)] = v
	}
	return out
}

func firstTag(tags map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(tags[strings.ToLower(k)]); v != "" {
			return v
		}
	}
	return ""
}
