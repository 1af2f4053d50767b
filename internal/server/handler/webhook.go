package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rtmpipe/internal/common"
	"rtmpipe/pkg/queue"
)

type WebhookPayload struct {
	ProjectKey   string `json:"project_key"`
	ExecutionKey string `json:"execution_key"`
	Recipients   string `json:"recipients"`
	ReportFormat string `json:"report_format"`
	Token        string `json:"token"`
}

const timestampMaxAge = 300

// WebhookSignature is hex(sha256("<timestamp>.<body>.<secret>")).
func WebhookSignature(timestamp string, body []byte, secret string) string {
	hash := sha256.Sum256([]byte(timestamp + "." + string(body) + "." + secret))
	return hex.EncodeToString(hash[:])
}

func (h *RunHandler) Webhook(c *gin.Context) {
	if h.webhookSecret == "" {
		common.Error(c, common.NewErrNo(common.WebhookInvalid))
		return
	}

	timestampStr := c.GetHeader("X-Webhook-Timestamp")
	signature := c.GetHeader("X-Webhook-Signature")
	if timestampStr == "" || signature == "" {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	now := time.Now().Unix()
	if now-timestamp > timestampMaxAge || timestamp > now {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	computed := WebhookSignature(timestampStr, body, h.webhookSecret)
	if !hmac.Equal([]byte(computed), []byte(signature)) {
		common.Error(c, common.NewErrNo(common.WebhookInvalid))
		return
	}

	// only URLs declared as webhook triggers are accepted
	ok := false
	for _, trigger := range h.pipeline.Triggers {
		if trigger.Webhook == c.Request.URL.Path {
			ok = true
			break
		}
	}
	if !ok {
		common.Error(c, common.NewErrNo(common.WebhookInvalid))
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	if !remoteFormat(payload.ReportFormat) {
		common.Error(c, common.NewErrNo(common.ParamsInvalid))
		return
	}
	h.start(c, queue.TriggerWebhook, queue.Params{
		ProjectKey:   payload.ProjectKey,
		ExecutionKey: payload.ExecutionKey,
		Recipients:   payload.Recipients,
		TriggerToken: payload.Token,
		ReportFormat: payload.ReportFormat,
	})
}
