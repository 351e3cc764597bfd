// Package media generates preview thumbnails for role media blobs
// (spec.md's RoleMetadata.MediaKey, SPEC_FULL.md §4's thumbnailing
// supplement), grounded on the teacher's internal/media package —
// generalized from chat-message attachments to project-role media and
// from attachment.Repository to project.Repository.
package media

import "strings"

// imageContentTypes lists the MIME types eligible for thumbnail generation.
// SVG is excluded: it is a vector format that does not benefit from raster
// resizing.
var imageContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// IsImageContentType reports whether contentType (as returned by
// http.DetectContentType) is eligible for thumbnail generation.
func IsImageContentType(contentType string) bool {
	return imageContentTypes[normalizeContentType(contentType)]
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i != -1 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}
