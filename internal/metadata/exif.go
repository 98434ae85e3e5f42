package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/logging"

	"github.com/rwcarlsen/goexif/exif"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// ReadImage extracts EXIF fields from an image file. Files without EXIF
// data yield an empty record; unreadable fields stay nil.
func ReadImage(path string) (*database.ExifInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close %s: %v", path, err)
		}
	}()
	return decodeExif(f)
}

func decodeExif(r io.Reader) (*database.ExifInfo, error) {
	info := &database.ExifInfo{}
	x, err := exif.Decode(r)
	if err != nil {
		if exif.IsCriticalError(err) {
			// no usable EXIF block at all
			logging.Debug("no EXIF data: %v", err)
			return info, nil
		}
		// partial data is still worth keeping
		logging.Debug("EXIF decoded with warnings: %v", err)
	}
	if x == nil {
		return info, nil
	}

	info.Make = stringTag(x, exif.Make)
	info.Model = stringTag(x, exif.Model)
	info.LensModel = stringTag(x, exif.LensModel)
	info.Description = stringTag(x, exif.ImageDescription)
	info.ExifImageWidth = intTag(x, exif.PixelXDimension)
	info.ExifImageHeight = intTag(x, exif.PixelYDimension)
	if info.ExifImageWidth == nil {
		info.ExifImageWidth = intTag(x, exif.ImageWidth)
	}
	if info.ExifImageHeight == nil {
		info.ExifImageHeight = intTag(x, exif.ImageLength)
	}
	info.ISO = intTag(x, exif.ISOSpeedRatings)
	info.BitsPerSample = intTag(x, exif.BitsPerSample)
	info.FNumber = ratTag(x, exif.FNumber)
	info.FocalLength = ratTag(x, exif.FocalLength)
	info.ExposureTime = exposureTag(x)
	info.DateTimeOriginal = timeTag(x, exif.DateTimeOriginal)
	info.ModifyDate = timeTag(x, exif.DateTime)

	if o := intTag(x, exif.Orientation); o != nil {
		info.Orientation = ptr(strconv.FormatInt(*o, 10))
	}
	// ColorSpace 1 is sRGB; 0xFFFF means uncalibrated
	if cs := intTag(x, exif.ColorSpace); cs != nil && *cs == 1 {
		info.Colorspace = ptr("sRGB")
	}

	if lat, lon, err := x.LatLong(); err == nil && validCoordinates(lat, lon) {
		info.Latitude, info.Longitude = &lat, &lon
	}
	return info, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) *string {
	tag, err := x.Get(name)
	if err != nil {
		return nil
	}
	s, err := tag.StringVal()
	if err != nil {
		return nil
	}
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	if s == "" {
		return nil
	}
	return &s
}

func intTag(x *exif.Exif, name exif.FieldName) *int64 {
	tag, err := x.Get(name)
	if err != nil {
		return nil
	}
	v, err := tag.Int64(0)
	if err != nil {
		return nil
	}
	return &v
}

func ratTag(x *exif.Exif, name exif.FieldName) *float64 {
	tag, err := x.Get(name)
	if err != nil {
		return nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

func exposureTag(x *exif.Exif) *string {
	tag, err := x.Get(exif.ExposureTime)
	if err != nil {
		return nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return nil
	}
	return ptr(formatExposure(num, den))
}

// formatExposure renders exposure times the way cameras display them:
// "1/250" below one second, decimal seconds otherwise.
func formatExposure(num, den int64) string {
	if num >= den {
		return strconv.FormatFloat(float64(num)/float64(den), 'f', -1, 64)
	}
	if num > 1 && den%num == 0 {
		den, num = den/num, 1
	}
	return fmt.Sprintf("%d/%d", num, den)
}

func timeTag(x *exif.Exif, name exif.FieldName) *time.Time {
	s := stringTag(x, name)
	if s == nil {
		return nil
	}
	t, err := parseExifTime(*s)
	if err != nil {
		logging.Debug("unparseable EXIF %s %q: %v", name, *s, err)
		return nil
	}
	return &t
}

// parseExifTime reads "YYYY:MM:DD HH:MM:SS" as UTC. Cameras that blank the
// field write zeros or spaces.
func parseExifTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000") {
		return time.Time{}, errors.New("empty date")
	}
	if len(s) > len(exifTimeLayout) {
		s = s[:len(exifTimeLayout)]
	}
	return time.Parse(exifTimeLayout, s)
}

func validCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func ptr[T any](v T) *T { return &v }
