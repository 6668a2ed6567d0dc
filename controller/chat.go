package controller

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"deepchat/service"
)

// ChatController maps the conversation operations onto the HTTP
// surface.
type ChatController struct {
	chats  *service.ChatService
	logger *logrus.Logger
}

func NewChatController(chats *service.ChatService, logger *logrus.Logger) *ChatController {
	return &ChatController{chats: chats, logger: logger}
}

func ownerID(c *gin.Context) uint {
	return c.GetUint("UserId")
}

func (ch *ChatController) Create(c *gin.Context) {
	var input struct {
		Name string `json:"name"`
	}
	// the body is optional; an absent one means the default name
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		ch.logger.Warnf("[%s] Invalid input, %s", c.GetString("requestId"), err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"kind": "invalid_input", "message": "invalid request body"}})
		return
	}

	conv, err := ch.chats.Create(ownerID(c), input.Name)
	if err != nil {
		ch.logger.Warnf("[%s] Failed to create conversation: %s", c.GetString("requestId"), err)
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, conv)
}

func (ch *ChatController) List(c *gin.Context) {
	convs, err := ch.chats.List(ownerID(c))
	if err != nil {
		ch.logger.Warnf("[%s] Failed to list conversations: %s", c.GetString("requestId"), err)
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, convs)
}

func (ch *ChatController) Rename(c *gin.Context) {
	var input struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		ch.logger.Warnf("[%s] Invalid input, %s", c.GetString("requestId"), err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"kind": "invalid_input", "message": "a name is required"}})
		return
	}

	conv, err := ch.chats.Rename(ownerID(c), c.Param("id"), input.Name)
	if err != nil {
		ch.logger.Warnf("[%s] Failed to rename conversation %s: %s", c.GetString("requestId"), c.Param("id"), err)
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, conv)
}

func (ch *ChatController) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := ch.chats.Delete(ownerID(c), id); err != nil {
		ch.logger.Warnf("[%s] Failed to delete conversation %s: %s", c.GetString("requestId"), id, err)
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"id": id})
}

func (ch *ChatController) SendMessage(c *gin.Context) {
	var input struct {
		Prompt string `json:"prompt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		ch.logger.Warnf("[%s] Invalid input, %s", c.GetString("requestId"), err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"kind": "invalid_input", "message": "a prompt is required"}})
		return
	}

	// a client disconnect must not cancel a turn mid-generation; the
	// cost is already being paid, so the result gets persisted anyway
	ctx := context.WithoutCancel(c.Request.Context())
	msg, err := ch.chats.SendMessage(ctx, ownerID(c), c.Param("id"), input.Prompt)
	if err != nil {
		ch.logger.Warnf("[%s] Turn failed for conversation %s: %s", c.GetString("requestId"), c.Param("id"), err)
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, msg)
}

func (ch *ChatController) Session(c *gin.Context) {
	convs, active, err := ch.chats.EnsureSession(ownerID(c))
	if err != nil {
		ch.logger.Warnf("[%s] Failed to open session: %s", c.GetString("requestId"), err)
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"chats": convs, "activeChatId": active})
}
