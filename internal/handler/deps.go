package handler

import (
	"roomchat/internal/app/chat"
	"roomchat/internal/app/storage"
	"roomchat/internal/app/user"
	"roomchat/internal/configs"
)

// AppDeps holds everything the HTTP layer needs.
type AppDeps struct {
	Chat     *chat.Service
	Sessions *user.Sessions
	Config   *configs.AppConfig

	// StorageService is nil when attachments are disabled.
	StorageService storage.StorageService
}
