package handler

import (
	"net/http"
	"slices"
	"swapgogo/backend/internal/api/middleware"
	"swapgogo/backend/internal/chathub"
	"swapgogo/backend/internal/localization"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Порожній список дозволяє будь-яке джерело (dev)
			if len(h.allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(h.allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// ServeChatSocket оновлює HTTP-з'єднання до WebSocket для одного чату
func (h *Handler) ServeChatSocket(c *gin.Context) {
	chatID := c.Param("chat_id")
	userID := middleware.UserID(c)

	// Membership is checked before the upgrade so that strangers get a plain HTTP error.
	if err := h.Swap.Authorize(c.Request.Context(), chatID, userID); err != nil {
		h.abortWithError(c, err)
		return
	}
	h.serve(c, userID, chatID)
}

// ServeNotificationSocket opens the personal channel of the caller.
func (h *Handler) ServeNotificationSocket(c *gin.Context) {
	h.serve(c, middleware.UserID(c), "")
}

func (h *Handler) serve(c *gin.Context, userID, chatID string) {
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug().Err(err).Str("user_id", userID).Msg("WebSocket upgrade failed")
		return
	}

	language := lang(c)
	if !h.Loc.Has(language) {
		language = localization.DefaultLanguage
	}
	session := chathub.NewSession(userID, chatID, language, h.Swap, h.Loc, nil, h.log)
	chathub.NewWebSocketClient(h.Hub, conn, session, h.log).Run()
}
