package chat

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"roomchat/internal/pkg/errs"
)

const (
	// MaxAttachmentSizeMB is the maximum allowed file size in megabytes.
	MaxAttachmentSizeMB = 20

	// MaxAttachmentSize is the maximum allowed file size in bytes.
	MaxAttachmentSize = MaxAttachmentSizeMB * 1024 * 1024

	// PresignedURLDuration is the fixed duration for which presigned URLs are valid.
	PresignedURLDuration = 5 * time.Minute

	// DownloadPath is the route that redirects to a presigned download of an attachment key.
	DownloadPath = "/api/file/presign-download"
)

// ExtToMIME maps every accepted file extension to its MIME type.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",

	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",

	".mp4": "video/mp4",
	".mov": "video/quicktime",

	".pdf": "application/pdf",
	".txt": "text/plain",
	".zip": "application/zip",
}

// extraMIME lists MIME types accepted for an extension besides its canonical one.
var extraMIME = map[string][]string{
	".webm": {"video/webm"},
	".ogg":  {"video/ogg"},
	".wav":  {"audio/x-wav", "audio/wave"},
	".m4a":  {"audio/x-m4a"},
}

// ValidateFileSize checks if the provided file size is within acceptable limits.
func ValidateFileSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxAttachmentSize {
		return errs.NewError(errs.ErrFileSizeTooLarge, MaxAttachmentSizeMB)
	}

	return nil
}

// ValidateFileType checks that the extension of fileName is accepted and agrees with mimeType.
func ValidateFileType(fileName string, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(lowerMimeType, ';'); i >= 0 {
		lowerMimeType = strings.TrimSpace(lowerMimeType[:i])
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) < 2 {
		return errs.NewError(errs.ErrFileTypeNotAllowed)
	}

	expectedMIME, ok := ExtToMIME[ext]
	if !ok {
		return errs.NewError(errs.ErrFileTypeNotAllowed)
	}

	if expectedMIME == lowerMimeType {
		return nil
	}
	for _, alt := range extraMIME[ext] {
		if alt == lowerMimeType {
			return nil
		}
	}

	return errs.NewError(errs.ErrFileTypeNotAllowed)
}

// ValidateAttachmentKey checks that key was issued for room.
func ValidateAttachmentKey(room, key string) *errs.CustomError {
	rest, ok := strings.CutPrefix(key, room+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") || strings.Contains(rest, "..") {
		return errs.NewError(errs.ErrAttachmentKeyInvalid)
	}
	return nil
}

// ContentTypeFor classifies an attachment by the major part of its MIME type.
func ContentTypeFor(mimeType string) ContentType {
	lower := strings.ToLower(mimeType)

	switch {
	case strings.HasPrefix(lower, "image/"):
		return ContentImage
	case strings.HasPrefix(lower, "audio/"):
		return ContentAudio
	case strings.HasPrefix(lower, "video/"):
		return ContentVideo
	default:
		return ContentFile
	}
}

// AttachmentURL is the client-facing reference stored on an attachment message.
func AttachmentURL(key string) string {
	return DownloadPath + "?k=" + url.QueryEscape(key)
}
