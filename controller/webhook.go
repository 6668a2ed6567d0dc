package controller

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"deepchat/service"
)

// WebhookController ingests identity-provider lifecycle events. The
// raw body is verified before anything parses it.
type WebhookController struct {
	identity *service.IdentitySyncService
	logger   *logrus.Logger
}

func NewWebhookController(identity *service.IdentitySyncService, logger *logrus.Logger) *WebhookController {
	return &WebhookController{identity: identity, logger: logger}
}

func (w *WebhookController) IdentityEvents(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		w.logger.Warnf("[%s] Failed to read webhook body: %s", c.GetString("requestId"), err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"kind": "invalid_input", "message": "unreadable request body"}})
		return
	}

	err = w.identity.Verify(
		c.GetHeader("svix-id"),
		c.GetHeader("svix-timestamp"),
		c.GetHeader("svix-signature"),
		body,
	)
	if err != nil {
		w.logger.Warnf("[%s] Webhook rejected: %s", c.GetString("requestId"), err)
		respondError(c, err)
		return
	}

	var event service.IdentityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		w.logger.Warnf("[%s] Malformed webhook payload: %s", c.GetString("requestId"), err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"kind": "invalid_input", "message": "malformed event payload"}})
		return
	}

	if err := w.identity.Process(event); err != nil {
		w.logger.Warnf("[%s] Failed to process %s event: %s", c.GetString("requestId"), event.Type, err)
		respondError(c, err)
		return
	}

	w.logger.Infof("[%s] Processed %s event", c.GetString("requestId"), event.Type)
	respondData(c, http.StatusOK, gin.H{"message": "event processed"})
}
