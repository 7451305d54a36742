package services

import (
	"github.com/matchpoint-app/matchpoint/models"
	"github.com/matchpoint-app/matchpoint/storage"
)

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func populatePlayerAvatarURL(player *models.Player, uploader storage.FileUploader) {
	if player != nil && player.AvatarKey != nil && *player.AvatarKey != "" && uploader != nil {
		url := uploader.GetPublicURL(*player.AvatarKey)
		if url != "" {
			player.AvatarURL = &url
		}
	}
}

func populatePlayerListAvatarURLs(players []*models.Player, uploader storage.FileUploader) {
	if uploader == nil {
		return
	}
	for _, p := range players {
		populatePlayerAvatarURL(p, uploader)
	}
}
