package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"createosaur-service/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	creatureStreamPollInterval = 1 * time.Second
	creatureStreamKeepAlive    = 3 * time.Second
)

// StreamCreatureHandler 通过 SSE 推送生成状态变化
func (h *Handlers) StreamCreatureHandler(c *gin.Context) {
	id := c.Param("id")

	var creature model.Creature
	if err := h.DB.Where("creature_id = ?", id).First(&creature).Error; err != nil {
		Error(c, http.StatusNotFound, 404, "任务未找到")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		Error(c, http.StatusInternalServerError, 500, "Streaming unsupported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	lastSignature := creatureSignature(&creature)
	if !writeCreatureEvent(c.Writer, flusher, &creature) {
		return
	}

	ticker := time.NewTicker(creatureStreamPollInterval)
	defer ticker.Stop()
	keepAliveTicker := time.NewTicker(creatureStreamKeepAlive)
	defer keepAliveTicker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			var latest model.Creature
			if err := h.DB.Where("creature_id = ?", id).First(&latest).Error; err != nil {
				return
			}

			signature := creatureSignature(&latest)
			if signature != lastSignature {
				if !writeCreatureEvent(c.Writer, flusher, &latest) {
					return
				}
				lastSignature = signature
			}

			if latest.Status == "completed" || latest.Status == "failed" {
				return
			}
		case <-keepAliveTicker.C:
			if _, err := fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeCreatureEvent(w http.ResponseWriter, flusher http.Flusher, creature *model.Creature) bool {
	payload, err := json.Marshal(creature)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func creatureSignature(creature *model.Creature) string {
	completedAt := ""
	if creature.CompletedAt != nil {
		completedAt = creature.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%d|%s",
		creature.Status,
		creature.ErrorMessage,
		creature.ImageURL,
		creature.ThumbnailURL,
		creature.LocalPath,
		creature.ThumbnailPath,
		creature.Width,
		creature.Height,
		completedAt,
	)
}
