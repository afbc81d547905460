package handler

import (
	"context"
	"errors"
	"net/http"
	"swapgogo/backend/internal/chathub"
	"swapgogo/backend/internal/localization"
	"swapgogo/backend/internal/security"
	"swapgogo/backend/internal/storage"
	"swapgogo/backend/internal/swap"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SwapEngine is what the HTTP and socket handlers need from the swap engine.
type SwapEngine interface {
	chathub.SwapService
	Authorize(ctx context.Context, chatID, userID string) error
	State(ctx context.Context, chatID, userID string) (*swap.ChatState, error)
}

// Handler містить посилання на ChatHub, сховище та рушій обміну
type Handler struct {
	Hub    *chathub.ManagerService
	Swap   SwapEngine
	Store  storage.Storage
	Tokens *security.TokenService
	Loc    *localization.Localizer

	allowedOrigins []string
	log            zerolog.Logger
}

func NewHandler(hub *chathub.ManagerService, engine SwapEngine, store storage.Storage, tokens *security.TokenService, loc *localization.Localizer, allowedOrigins []string, logger zerolog.Logger) *Handler {
	return &Handler{
		Hub:            hub,
		Swap:           engine,
		Store:          store,
		Tokens:         tokens,
		Loc:            loc,
		allowedOrigins: allowedOrigins,
		log:            logger.With().Str("component", "api").Logger(),
	}
}

// Health reports liveness and the number of open sockets.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.Hub.ClientCount()})
}

// abortWithError maps an engine or store error to an HTTP status.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, swap.ErrChatNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, swap.ErrNotParticipant):
		status = http.StatusForbidden
	case swap.IsDomain(err):
		status = http.StatusConflict
	}

	msg := h.Loc.GetString(lang(c), "error_"+swap.Reason(err))
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func lang(c *gin.Context) string {
	if l := c.Query("lang"); l != "" {
		return l
	}
	return localization.DefaultLanguage
}
