package httptransport

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"cosyvoice-gateway/internal/domain/eventbus"
	"cosyvoice-gateway/internal/domain/voice"
	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

// maxSampleUpload bounds the accepted clone sample size.
const maxSampleUpload = 32 << 20

type voiceView struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

func viewOf(e voice.Entry) voiceView {
	return voiceView{
		Name:        e.Name,
		Kind:        string(e.Kind),
		Language:    e.Language,
		Description: e.Description,
		CreatedAt:   e.CreatedAt.Unix(),
	}
}

// handleListVoices serves GET /v1/voices.
func (s *Service) handleListVoices(c *gin.Context) {
	entries := s.registry.List()
	views := make([]voiceView, 0, len(entries))
	for _, e := range entries {
		views = append(views, viewOf(e))
	}
	c.JSON(http.StatusOK, gin.H{"voices": views})
}

// handleCloneVoice serves POST /v1/voice/clone. The request is multipart:
// the reference audio under "voice_sample" plus "speaker_name" and optional
// "description" and "language" fields.
func (s *Service) handleCloneVoice(c *gin.Context) {
	const op = "http.clone_voice"

	name := c.PostForm("speaker_name")
	if name == "" {
		RespondError(c, platformerrors.New(platformerrors.KindValidation, op, "speaker_name is required"))
		return
	}

	fileHeader, err := c.FormFile("voice_sample")
	if err != nil {
		RespondError(c, platformerrors.New(platformerrors.KindValidation, op, "voice_sample file is required"))
		return
	}
	if fileHeader.Size > maxSampleUpload {
		RespondError(c, platformerrors.New(platformerrors.KindSample, op, "voice sample too large"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, platformerrors.Wrap(platformerrors.KindTransport, op, "open uploaded sample", err))
		return
	}
	defer file.Close()

	sample, err := io.ReadAll(io.LimitReader(file, maxSampleUpload+1))
	if err != nil {
		RespondError(c, platformerrors.Wrap(platformerrors.KindTransport, op, "read uploaded sample", err))
		return
	}
	if len(sample) > maxSampleUpload {
		RespondError(c, platformerrors.New(platformerrors.KindSample, op, "voice sample too large"))
		return
	}

	entry, err := s.registry.RegisterCloned(
		c.Request.Context(),
		name,
		sample,
		c.PostForm("description"),
		c.PostForm("language"),
	)
	if err != nil {
		RespondError(c, err)
		return
	}

	s.bus.Publish(eventbus.EventVoiceCloned, eventbus.VoiceEventData{Name: entry.Name})
	c.JSON(http.StatusOK, gin.H{"voice": viewOf(entry)})
}

// handleDeleteVoice serves DELETE /v1/voice/:name.
func (s *Service) handleDeleteVoice(c *gin.Context) {
	name := c.Param("name")
	if err := s.registry.Delete(c.Request.Context(), name); err != nil {
		RespondError(c, err)
		return
	}
	s.bus.Publish(eventbus.EventVoiceDeleted, eventbus.VoiceEventData{Name: name})
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

type modelView struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleModels serves GET /v1/models in the OpenAI listing shape.
func (s *Service) handleModels(c *gin.Context) {
	created := s.startedAt.Unix()
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []modelView{
			{ID: ModelID, Object: "model", Created: created, OwnedBy: "alibaba"},
			{ID: ModelAliasID, Object: "model", Created: created, OwnedBy: "alibaba"},
		},
	})
}

// handleHealth serves GET /health with engine reachability and host load.
func (s *Service) handleHealth(c *gin.Context) {
	engineStatus := "ok"
	if s.engine != nil {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		if err := s.engine.Ping(pingCtx); err != nil {
			engineStatus = "unreachable"
		}
		cancel()
	}

	payload := gin.H{
		"status":         "ok",
		"engine":         engineStatus,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"cache": gin.H{
			"entries": s.cache.Len(),
			"bytes":   s.cache.Bytes(),
		},
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload["cpu_percent"] = percents[0]
	}

	status := http.StatusOK
	if engineStatus != "ok" {
		payload["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, payload)
}
