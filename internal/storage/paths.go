package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Folder is a top-level directory under the media location.
type Folder string

const (
	FolderUpload       Folder = "upload"
	FolderLibrary      Folder = "library"
	FolderThumbnails   Folder = "thumbs"
	FolderEncodedVideo Folder = "encoded-video"
	FolderProfile      Folder = "profile"
)

// Layout selects how derived files are spread below an owner's folder.
type Layout string

const (
	// LayoutFlat stores <folder>/<owner>/<id>.<ext>.
	LayoutFlat Layout = "flat"
	// LayoutNested stores <folder>/<owner>/<id[0:2]>/<id[2:4]>/<id>.<ext>.
	LayoutNested Layout = "nested"
)

// Valid reports whether l is a known layout.
func (l Layout) Valid() bool {
	return l == LayoutFlat || l == LayoutNested
}

// ThumbnailFormat is the encoding of a generated thumbnail.
type ThumbnailFormat string

const (
	FormatJPEG ThumbnailFormat = "jpeg"
	FormatWEBP ThumbnailFormat = "webp"
)

// Resolver computes canonical locations of derived files. It is a value
// type: the same inputs always produce the same path, and no filesystem
// access happens here.
type Resolver struct {
	root   string
	layout Layout
}

// NewResolver returns a resolver rooted at the media location. An unknown
// layout falls back to flat.
func NewResolver(root string, layout Layout) Resolver {
	if !layout.Valid() {
		layout = LayoutFlat
	}
	return Resolver{root: filepath.Clean(root), layout: layout}
}

// Root returns the media location.
func (r Resolver) Root() string { return r.root }

// Layout returns the derived file layout in effect.
func (r Resolver) Layout() Layout { return r.layout }

// BaseFolder returns <root>/<folder>.
func (r Resolver) BaseFolder(folder Folder) string {
	return filepath.Join(r.root, string(folder))
}

// FolderLocation returns <root>/<folder>/<ownerID>.
func (r Resolver) FolderLocation(folder Folder, ownerID string) string {
	return filepath.Join(r.root, string(folder), ownerID)
}

// Path returns the location of <id>.<ext> owned by ownerID in folder.
func (r Resolver) Path(folder Folder, ownerID, id, ext string) string {
	name := id + "." + ext
	base := r.FolderLocation(folder, ownerID)
	if r.layout == LayoutNested && len(id) >= 4 {
		return filepath.Join(base, id[0:2], id[2:4], name)
	}
	return filepath.Join(base, name)
}

// ThumbnailPath returns the canonical thumbnail location for an asset.
func (r Resolver) ThumbnailPath(ownerID, assetID string, format ThumbnailFormat) string {
	return r.Path(FolderThumbnails, ownerID, assetID, string(format))
}

// PersonThumbnailPath returns the canonical face thumbnail of a person.
func (r Resolver) PersonThumbnailPath(ownerID, personID string) string {
	return r.Path(FolderThumbnails, ownerID, personID, string(FormatJPEG))
}

// EncodedVideoPath returns the canonical transcoded video location.
func (r Resolver) EncodedVideoPath(ownerID, assetID string) string {
	return r.Path(FolderEncodedVideo, ownerID, assetID, "mp4")
}

// Contains reports whether path lies inside the media location.
func (r Resolver) Contains(path string) bool {
	return within(r.root, path)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ErrInvalidOwner is returned for owner ids that cannot name a folder.
var ErrInvalidOwner = errors.New("invalid owner id")

// ValidateOwnerID checks that id is one path segment other than "." and
// "..", so that owner folders stay below their base folder.
func ValidateOwnerID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidOwner, id)
	}
	return nil
}

// DirMaker creates directories.
type DirMaker interface {
	MkdirAll(path string) error
}

// EnsurePath creates the parent directory of path and returns path.
func EnsurePath(dirs DirMaker, path string) (string, error) {
	if err := dirs.MkdirAll(filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", path, err)
	}
	return path, nil
}

// EmptyDirRemover removes empty directories below a root.
type EmptyDirRemover interface {
	RemoveEmptyDirs(root string) error
}

// RemoveEmptyDirs removes every empty directory below folder.
func (r Resolver) RemoveEmptyDirs(fs EmptyDirRemover, folder Folder) error {
	return fs.RemoveEmptyDirs(r.BaseFolder(folder))
}
