package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/hidrolabs/aquarelay/internal/common/errorx"
	"github.com/hidrolabs/aquarelay/internal/i18n"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// inspectedHistoryLimit caps the history slice returned by the inspection
// endpoint; the store retains more.
const inspectedHistoryLimit = 10

func conversationIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("conversationId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

// handleGetSession returns the session metadata plus the tail of its history.
func (s *Server) handleGetSession(c *gin.Context) {
	id, ok := conversationIDParam(c)
	if !ok {
		return
	}

	sess, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, errorx.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		s.logger.Error("session lookup failed", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	history, err := s.store.History(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("history lookup failed", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	messageCount := len(history)
	if len(history) > inspectedHistoryLimit {
		history = history[len(history)-inspectedHistoryLimit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"session":      sess,
		"messageCount": messageCount,
		"history":      history,
	})
}

// handleDeleteSession clears the session. Clearing a conversation that has
// no session is still a success.
func (s *Server) handleDeleteSession(c *gin.Context) {
	id, ok := conversationIDParam(c)
	if !ok {
		return
	}

	if err := s.store.Clear(c.Request.Context(), id); err != nil {
		s.logger.Error("session clear failed", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": s.translator.TranslateContext(c, i18n.MsgSessionCleared, nil),
	})
}
