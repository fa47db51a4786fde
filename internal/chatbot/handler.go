package chatbot

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vitiligo-backend/internal/shared/metrics"
	"vitiligo-backend/internal/shared/server/middleware"
	"vitiligo-backend/internal/shared/server/respond"
	"vitiligo-backend/internal/shared/telemetry"
)

const maxPromptBytes = 32 << 10

// Handler proxies chatbot prompts to the model server.
type Handler struct {
	Gen Generator
}

// NewHandler constructs a Handler.
func NewHandler(gen Generator) *Handler {
	return &Handler{Gen: gen}
}

// RegisterRoutes attaches chatbot routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/chatbot/generate", h.generate)
}

type generateBody struct {
	Prompt string `json:"prompt"`
	// Stream is accepted for compatibility with existing clients; replies are never streamed.
	Stream bool `json:"stream"`
}

func (h *Handler) generate(c *gin.Context) {
	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	prompt := strings.TrimSpace(body.Prompt)
	if prompt == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "prompt is required", nil)
		return
	}
	if len(prompt) > maxPromptBytes {
		respond.Error(c, http.StatusBadRequest, "validation_error", "prompt is too long", nil)
		return
	}

	answer, err := h.Gen.Generate(c.Request.Context(), prompt)
	metrics.IncChatbotRequest(err != nil)
	if err != nil {
		telemetry.Error("chatbot.generate_failed", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"prompt_len": len(prompt),
			"error":      err,
		})
		switch {
		case errors.Is(err, ErrEmptyResponse):
			respond.Error(c, http.StatusBadGateway, "empty_response", "Received an empty response from the AI model", nil)
		default:
			respond.Error(c, http.StatusBadGateway, "upstream_error", "Failed to generate response from chatbot", nil)
		}
		return
	}
	respond.OK(c, gin.H{"response": answer})
}
