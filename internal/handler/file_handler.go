package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"roomchat/internal/app/chat"
	"roomchat/internal/app/storage"
	"roomchat/internal/pkg/errs"
	"roomchat/internal/pkg/logx"
	"roomchat/internal/pkg/randx"
	"roomchat/internal/pkg/req"
	"roomchat/internal/pkg/resp"
)

// multipartMemory is the part of an upload form kept in memory before spilling to disk.
const multipartMemory = 8 << 20

// defaultVoiceExt names voice recordings sent without a file name.
const defaultVoiceExt = ".webm"

// PresignUploadInput defines the JSON input structure for generating an upload URL.
type PresignUploadInput struct {
	Room     string `json:"room"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// RequireStorage answers ErrFileStorageDisabled when no bucket is configured.
func RequireStorage(deps *AppDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if deps.StorageService == nil {
				resp.RespondError(w, errs.NewError(errs.ErrFileStorageDisabled))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandlePresignUploadURL returns a time-limited PUT URL for a key scoped to the requested room.
func HandlePresignUploadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input PresignUploadInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		if !randx.IsValidRoomName(input.Room) {
			resp.RespondError(w, errs.NewError(errs.ErrRoomNameInvalid))
			return
		}
		if err := chat.ValidateFileSize(input.FileSize); err != nil {
			resp.RespondError(w, err)
			return
		}
		if err := chat.ValidateFileType(input.FileName, input.MimeType); err != nil {
			resp.RespondError(w, err)
			return
		}

		fileKey := randx.FileKey(input.Room, filepath.Ext(input.FileName))

		url, err := deps.StorageService.PresignUpload(
			r.Context(),
			fileKey,
			input.MimeType,
			input.FileSize,
			chat.PresignedURLDuration,
		)
		if err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, map[string]any{
			"presignedUrl": url,
			"fileKey":      fileKey,
			"fileName":     input.FileName,
		})
	}
}

// HandlePresignDownloadURL redirects to a time-limited GET URL for an uploaded attachment.
func HandlePresignDownloadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileKey := r.URL.Query().Get("k")
		room, _, ok := strings.Cut(fileKey, "/")
		if !ok || chat.ValidateAttachmentKey(room, fileKey) != nil {
			resp.RespondError(w, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if _, err := deps.StorageService.Stat(r.Context(), fileKey); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				resp.RespondJSON(w, http.StatusNotFound, resp.JSONResponse{
					Code:    errs.ErrAttachmentKeyInvalid,
					Message: "Attachment not found.",
				})
				return
			}
			resp.RespondError(w, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		url, err := deps.StorageService.PresignDownload(r.Context(), fileKey, chat.PresignedURLDuration)
		if err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}

// HandleUpload stores a small multipart upload (typically a recorded voice note)
// and publishes it to the room as the authenticated user.
func HandleUpload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r)
		if !ok {
			resp.RespondError(w, errs.NewError(errs.ErrUnauthorized))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, chat.MaxAttachmentSize+multipartMemory)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrInvalidParams))
			return
		}
		defer r.MultipartForm.RemoveAll()

		room := r.FormValue("room")
		if !randx.IsValidRoomName(room) {
			resp.RespondError(w, errs.NewError(errs.ErrRoomNameInvalid))
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrInvalidParams))
			return
		}
		defer file.Close()

		if customErr := chat.ValidateFileSize(header.Size); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext == "" {
			ext = defaultVoiceExt
		}

		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = chat.ExtToMIME[ext]
		}
		if customErr := chat.ValidateFileType("upload"+ext, mimeType); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		fileKey := randx.FileKey(room, ext)
		if err := deps.StorageService.Upload(r.Context(), fileKey, mimeType, file); err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		message, err := deps.Chat.PostAttachment(r.Context(), room, identity.Username, fileKey, mimeType)
		if err != nil {
			var customErr *errs.CustomError
			if errors.As(err, &customErr) {
				resp.RespondError(w, customErr)
				return
			}
			logx.Error(err, "upload: failed to publish attachment", "room", room, "key", fileKey)
			resp.RespondError(w, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, map[string]any{
			"fileKey": fileKey,
			"message": message,
		})
	}
}
