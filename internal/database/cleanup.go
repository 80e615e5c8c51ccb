package database

import (
	"log"
	"time"

	"gorm.io/gorm"

	"tabletop-backend/internal/model"
)

// StartCleanup runs a periodic sweep deleting lobbies whose expires_at has
// passed, together with their memberships, chat history and asset rows.
// onExpired is called after the rows are gone so the caller can drop the
// in-memory state and stored objects for those lobby ids. Returns a stop
// function.
func StartCleanup(db *gorm.DB, interval time.Duration, onExpired func(lobbyIDs []int64, s3Keys []string)) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sweepExpired(db, onExpired)
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

func sweepExpired(db *gorm.DB, onExpired func(lobbyIDs []int64, s3Keys []string)) {
	now := time.Now()

	var expired []int64
	if err := db.Model(&model.Lobby{}).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Pluck("id", &expired).Error; err != nil {
		log.Printf("[Cleanup] failed to list expired lobbies: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	var s3Keys []string
	for _, m := range []any{&model.MapAsset{}, &model.TokenAsset{}} {
		var keys []string
		if err := db.Model(m).Where("lobby_id IN ? AND s3_key <> ''", expired).
			Pluck("s3_key", &keys).Error; err != nil {
			log.Printf("[Cleanup] failed to list asset keys: %v", err)
		}
		s3Keys = append(s3Keys, keys...)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.ChatMessage{}, &model.LobbyPlayer{}, &model.MapAsset{}, &model.TokenAsset{}} {
			if err := tx.Where("lobby_id IN ?", expired).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Where("id IN ?", expired).Delete(&model.Lobby{}).Error
	})
	if err != nil {
		log.Printf("[Cleanup] sweep failed: %v", err)
		return
	}

	if onExpired != nil {
		onExpired(expired, s3Keys)
	}
	log.Printf("[Cleanup] removed %d expired lobbies", len(expired))
}
