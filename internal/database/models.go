package database

import "time"

// AssetType classifies an asset.
type AssetType string

const (
	AssetTypeImage AssetType = "IMAGE"
	AssetTypeVideo AssetType = "VIDEO"
	AssetTypeOther AssetType = "OTHER"
)

// Asset is a single uploaded or imported media file. Empty strings in the
// derived path fields mean the file has not been generated yet.
type Asset struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	DeviceAssetID    string    `json:"deviceAssetId"`
	DeviceID         string    `json:"deviceId"`
	Type             AssetType `json:"type"`
	MimeType         string    `json:"mimeType"`
	OriginalPath     string    `json:"originalPath"`
	OriginalFileName string    `json:"originalFileName"`
	Checksum         []byte    `json:"-"`
	IsExternal       bool      `json:"isExternal"`
	ResizePath       string    `json:"resizePath,omitempty"`
	WebpPath         string    `json:"webpPath,omitempty"`
	Thumbhash        []byte    `json:"thumbhash,omitempty"`
	EncodedVideoPath string    `json:"encodedVideoPath,omitempty"`
	SidecarPath      string    `json:"sidecarPath,omitempty"`
	FileCreatedAt    time.Time `json:"fileCreatedAt"`
	FileModifiedAt   time.Time `json:"fileModifiedAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// AssetUpdate is a field-level update. Nil fields are left untouched; a
// pointer to "" clears a path.
type AssetUpdate struct {
	OriginalPath     *string
	ResizePath       *string
	WebpPath         *string
	Thumbhash        []byte
	EncodedVideoPath *string
	SidecarPath      *string
	FileCreatedAt    *time.Time
	FileModifiedAt   *time.Time
	Checksum         []byte
}

// WithoutProperty selects assets missing one derived artifact.
type WithoutProperty string

const (
	WithoutThumbnail    WithoutProperty = "THUMBNAIL"
	WithoutEncodedVideo WithoutProperty = "ENCODED_VIDEO"
	WithoutExif         WithoutProperty = "EXIF"
	WithoutObjectTags   WithoutProperty = "OBJECT_TAGS"
	WithoutClipEncoding WithoutProperty = "CLIP_ENCODING"
	WithoutFaces        WithoutProperty = "FACES"
	WithoutSidecar      WithoutProperty = "SIDECAR"
)

// ExifInfo holds extracted metadata. Nil means unknown.
type ExifInfo struct {
	AssetID            string     `json:"assetId"`
	Make               *string    `json:"make"`
	Model              *string    `json:"model"`
	LensModel          *string    `json:"lensModel"`
	ExifImageWidth     *int64     `json:"exifImageWidth"`
	ExifImageHeight    *int64     `json:"exifImageHeight"`
	FileSizeInByte     *int64     `json:"fileSizeInByte"`
	Orientation        *string    `json:"orientation"`
	DateTimeOriginal   *time.Time `json:"dateTimeOriginal"`
	ModifyDate         *time.Time `json:"modifyDate"`
	TimeZone           *string    `json:"timeZone"`
	FNumber            *float64   `json:"fNumber"`
	FocalLength        *float64   `json:"focalLength"`
	ISO                *int64     `json:"iso"`
	ExposureTime       *string    `json:"exposureTime"`
	Latitude           *float64   `json:"latitude"`
	Longitude          *float64   `json:"longitude"`
	City               *string    `json:"city"`
	State              *string    `json:"state"`
	Country            *string    `json:"country"`
	Description        *string    `json:"description"`
	FPS                *float64   `json:"fps"`
	Colorspace         *string    `json:"colorspace"`
	ProfileDescription *string    `json:"profileDescription"`
	BitsPerSample      *int64     `json:"bitsPerSample"`
}

// Person is a recognized face cluster.
type Person struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Name          string    `json:"name"`
	ThumbnailPath string    `json:"thumbnailPath"`
	FaceAssetID   string    `json:"faceAssetId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PersonUpdate is a field-level person update.
type PersonUpdate struct {
	Name          *string
	ThumbnailPath *string
	FaceAssetID   *string
}

// AssetFace links a person to a face detected in an asset.
type AssetFace struct {
	AssetID     string    `json:"assetId"`
	PersonID    string    `json:"personId"`
	Embedding   []float32 `json:"-"`
	ImageWidth  int       `json:"imageWidth"`
	ImageHeight int       `json:"imageHeight"`
	X1          int       `json:"boundingBoxX1"`
	Y1          int       `json:"boundingBoxY1"`
	X2          int       `json:"boundingBoxX2"`
	Y2          int       `json:"boundingBoxY2"`
}

// SmartInfo holds machine learning output for an asset.
type SmartInfo struct {
	AssetID       string    `json:"assetId"`
	Tags          []string  `json:"tags,omitempty"`
	ClipEmbedding []float32 `json:"-"`
}

// GeodataPlace is a populated place with its resolved admin names.
type GeodataPlace struct {
	ID               int64
	Name             string
	Latitude         float64
	Longitude        float64
	CountryCode      string
	Admin1Code       string
	Admin2Code       string
	ModificationDate string
	Admin1Name       string
	Admin2Name       string
}

// GeodataState records the last successful geodata import.
type GeodataState struct {
	LastUpdate         string `json:"lastUpdate,omitempty"`
	LastImportFileName string `json:"lastImportFileName,omitempty"`
}
