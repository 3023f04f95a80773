package handlers

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/httpapi/response"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/providers"
)

// HealthHandler backs GET /health (always 200, process is up) and
// GET /ready (503 until the minimum credential set to actually run a
// job is present) — the usual liveness/readiness probe split.
type HealthHandler struct {
	router *providers.Router
}

func NewHealthHandler(router *providers.Router) *HealthHandler {
	return &HealthHandler{router: router}
}

func (h *HealthHandler) Health(c *gin.Context) {
	response.RespondOK(c, gin.H{"status": "ok"})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	configured := h.router.ConfiguredProviders()
	anyLLM := false
	for _, ok := range configured {
		if ok {
			anyLLM = true
			break
		}
	}
	asrConfigured := strings.TrimSpace(os.Getenv("GROQ_API_KEY")) != ""

	if !anyLLM || !asrConfigured {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not_ready",
			"llm_provider": anyLLM,
			"asr_provider": asrConfigured,
			"providers":    configured,
		})
		return
	}
	response.RespondOK(c, gin.H{
		"status":       "ready",
		"llm_provider": anyLLM,
		"asr_provider": asrConfigured,
		"providers":    configured,
	})
}
