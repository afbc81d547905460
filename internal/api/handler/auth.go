package handler

import (
	"errors"
	"net/http"
	"strings"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GetAnonID видає JWT для користувача з указаним ім'ям, створюючи його за потреби.
// Without a username a random anonymous one is generated.
func (h *Handler) GetAnonID(c *gin.Context) {
	ctx := c.Request.Context()
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		username = "anon-" + uuid.NewString()[:8]
	}

	user, err := h.Store.GetUserByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		user = &models.User{Username: username}
		err = h.Store.SaveUser(ctx, user)
	}
	if err != nil {
		h.log.Error().Err(err).Str("username", username).Msg("Failed to load user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	token, err := h.Tokens.CreateForUser(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": user.ID, "username": user.Username})
}
