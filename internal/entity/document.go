package entity

import (
	"path"
	"strings"
	"time"
)

// DocumentID identifies a source document by the stem of its object name.
// The stem is the reconciliation key between sources and result artifacts.
type DocumentID struct {
	Stem string `json:"stem"`
	Ext  string `json:"ext"` // includes the leading dot, may be empty
}

func (d DocumentID) String() string { return d.Stem + d.Ext }

// ParseDocumentID derives the id from an object key: basename with the last
// extension split off.
func ParseDocumentID(key string) DocumentID {
	base := path.Base(strings.ReplaceAll(key, "\\", "/"))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// dotfiles like ".env" have no extension
		return DocumentID{Stem: base}
	}
	return DocumentID{Stem: stem, Ext: ext}
}

// Stem is shorthand for ParseDocumentID(key).Stem.
func Stem(key string) string { return ParseDocumentID(key).Stem }

// ObjectInfo describes a stored object as returned by a listing.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Image is an opaque page raster with its media type.
type Image struct {
	Data     []byte
	MIMEType string
}

type Page struct {
	Index  int // 0-based
	Image  Image
	Record *ExtractionRecord
}

// Document is a source file broken into page images.
type Document struct {
	ID     DocumentID
	Source ObjectInfo
	Pages  []Page
}
