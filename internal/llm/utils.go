package llm

import (
	"encoding/base64"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

// DataURL encodes an image as a base64 data URL.
func DataURL(img entity.Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Base64 encodes image bytes without the data URL prefix.
func Base64(img entity.Image) string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// ReadImage loads a file and sniffs its media type from content.
func ReadImage(path string) (entity.Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return entity.Image{}, err
	}
	return entity.Image{Data: b, MIMEType: mimetype.Detect(b).String()}, nil
}
