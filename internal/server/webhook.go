package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xaenox/memo-organizer/internal/ingest"
	"github.com/xaenox/memo-organizer/internal/media"
	"go.uber.org/zap"
)

type EnvelopeDispatcher interface {
	ParseEnvelope(body []byte) (*ingest.Envelope, error)
	Dispatch(ctx context.Context, env *ingest.Envelope) ingest.Result
}

// WebhookHandler receives WhatsApp Cloud API notifications.
type WebhookHandler struct {
	dispatcher  EnvelopeDispatcher
	verifyToken string
	maxBody     int64
	logger      *zap.Logger
}

func NewWebhookHandler(dispatcher EnvelopeDispatcher, verifyToken string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher:  dispatcher,
		verifyToken: verifyToken,
		maxBody:     1 << 20,
		logger:      logger,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Receive)
}

// Verify answers the subscription handshake by echoing hub.challenge.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("Webhook verification rejected", zap.String("mode", mode))
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

// Receive queues every message in the envelope. It answers 200 once the
// envelope is well formed, even when single messages were skipped, so the
// platform does not retry the whole batch.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := media.ReadAllWithLimit(c.Request().Body, h.maxBody)
	if err != nil {
		if errors.Is(err, media.ErrAssetTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	env, err := h.dispatcher.ParseEnvelope(body)
	if err != nil {
		h.logger.Warn("Rejected webhook envelope", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result := h.dispatcher.Dispatch(c.Request().Context(), env)
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"enqueued": result.Enqueued,
		"skipped":  result.Skipped,
	})
}
