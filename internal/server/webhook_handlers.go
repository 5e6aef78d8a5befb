package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/MarcoPoloResearchLab/gurukul/internal/webhooks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleIdentityWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_payload"})
		return
	}

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		status, body := webhookFailureResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("identity webhook failed", zap.Error(err))
		}
		c.JSON(status, body)
		return
	}

	response := gin.H{"status": string(outcome.Action)}
	if outcome.Action == webhooks.ActionDeleted {
		response["deleted"] = outcome.WasPresent
	}
	c.JSON(http.StatusOK, response)
}

// webhookFailureResponse maps a reconciler failure to a status the provider understands:
// non-2xx responses are redelivered, so only a duplicate create is acknowledged.
func webhookFailureResponse(err error) (int, gin.H) {
	var failure *webhooks.Failure
	if !errors.As(err, &failure) {
		return http.StatusInternalServerError, gin.H{"error": "store_error"}
	}
	switch failure.Kind {
	case webhooks.FailureAuthentication:
		return http.StatusUnauthorized, gin.H{"error": "invalid_signature"}
	case webhooks.FailureMalformedPayload:
		return http.StatusBadRequest, gin.H{"error": "malformed_payload"}
	case webhooks.FailureStoreConflict:
		if failure.EventType == webhooks.EventUserCreated {
			return http.StatusOK, gin.H{"status": "already_exists"}
		}
		return http.StatusConflict, gin.H{"error": "email_conflict"}
	case webhooks.FailureStoreNotFound:
		return http.StatusNotFound, gin.H{"error": "identity_not_found"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "store_error"}
	}
}
