package domain

import (
	"io"
	"path"
	"strings"
)

// AttachmentCategory gates which workflows may accept a file.
type AttachmentCategory string

const (
	CategoryImage    AttachmentCategory = "image"
	CategoryDocument AttachmentCategory = "document"
)

var imageExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

// Attachment is a file pending upload. It exists only for the duration of one
// submission and is never persisted itself; only its public URL is.
type Attachment struct {
	Name    string
	Size    int64
	Content io.Reader
}

// Ext returns the lower-cased file extension without the leading dot.
func (a Attachment) Ext() string {
	ext := strings.TrimPrefix(path.Ext(a.Name), ".")
	return strings.ToLower(ext)
}

// Category classifies the attachment by extension: png/jpg/jpeg/gif are
// images, everything else is a document.
func (a Attachment) Category() AttachmentCategory {
	if imageExtensions[a.Ext()] {
		return CategoryImage
	}
	return CategoryDocument
}
