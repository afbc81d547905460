package handler

import (
	"net/http"
	"slices"
	"swapgogo/backend/internal/api/middleware"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type createChatRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1,dive,required"`
}

// CreateChat creates a chat between the caller and the listed users.
func (h *Handler) CreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_ids is required"})
		return
	}

	ctx := c.Request.Context()
	members := append([]string{middleware.UserID(c)}, req.ParticipantIDs...)
	slices.Sort(members)
	members = slices.Compact(members)
	if len(members) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a chat needs at least two participants"})
		return
	}

	var users map[string]models.User
	err := h.Store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		users, err = tx.GetUsers(members)
		return err
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	for _, id := range members {
		if _, ok := users[id]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown participant " + id})
			return
		}
	}

	chat := &models.ChatRoom{}
	if err := h.Store.CreateChat(ctx, chat, members); err != nil {
		h.abortWithError(c, err)
		return
	}
	h.log.Info().Str("chat_id", chat.ID).Strs("participants", members).Msg("Chat created")
	c.JSON(http.StatusCreated, gin.H{"chat_id": chat.ID, "participant_ids": members})
}

// GetSwapState returns the caller's identity in the chat and the pending request.
func (h *Handler) GetSwapState(c *gin.Context) {
	state, err := h.Swap.State(c.Request.Context(), c.Param("chat_id"), middleware.UserID(c))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
