package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xaenox/memo-organizer/internal/access"
	"github.com/xaenox/memo-organizer/internal/blobstore"
	"github.com/xaenox/memo-organizer/internal/hierarchy"
	"github.com/xaenox/memo-organizer/internal/media"
	"github.com/xaenox/memo-organizer/internal/models"
	"github.com/xaenox/memo-organizer/internal/storage"
	"github.com/xaenox/memo-organizer/internal/tagging"
	"go.uber.org/zap"
)

type Submitter interface {
	Submit(ctx context.Context, item models.WorkItem) (string, error)
}

type TagReplacer interface {
	Replace(ctx context.Context, messageID string, tags, nextSteps []string) error
}

// UpdateMessageRequest is a partial update. Absent fields keep their value;
// tags and next steps, when present, replace the current set.
type UpdateMessageRequest struct {
	Content     *string   `json:"content"`
	Category    *string   `json:"category"`
	Subcategory *string   `json:"subcategory"`
	ContentType *string   `json:"type"`
	Purpose     *string   `json:"purpose"`
	Tags        *[]string `json:"tags"`
	NextSteps   *[]string `json:"next_steps"`
}

type OrganizedResponse struct {
	Owner     string              `json:"owner"`
	Total     int                 `json:"total"`
	Organized hierarchy.Organized `json:"organized"`
}

// MessageHandler serves the per-owner read APIs and message edits.
type MessageHandler struct {
	store     storage.MessageStorage
	linker    TagReplacer
	submitter Submitter
	blobs     blobstore.Store
	checker   *access.Checker
	urlTTL    time.Duration
	logger    *zap.Logger
}

func NewMessageHandler(
	store storage.MessageStorage,
	linker TagReplacer,
	submitter Submitter,
	blobs blobstore.Store,
	checker *access.Checker,
	urlTTL time.Duration,
	logger *zap.Logger,
) *MessageHandler {
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &MessageHandler{
		store:     store,
		linker:    linker,
		submitter: submitter,
		blobs:     blobs,
		checker:   checker,
		urlTTL:    urlTTL,
		logger:    logger,
	}
}

func (h *MessageHandler) Register(e *echo.Echo) {
	owners := e.Group("/api/owners/:owner")
	owners.GET("/hierarchy", h.Hierarchy)
	owners.GET("/organized", h.Organized)
	owners.GET("/counts", h.Counts)

	messages := e.Group("/api/messages/:id")
	messages.GET("", h.Get)
	messages.PATCH("", h.Update)
	messages.DELETE("", h.Delete)
	messages.GET("/related", h.Related)
	messages.POST("/reclassify", h.Reclassify)
	messages.GET("/media-url", h.MediaURL)
}

func (h *MessageHandler) Hierarchy(c echo.Context) error {
	msgs, err := h.ownerMessages(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hierarchy.BuildFromMessages(msgs))
}

// Organized returns the category tree of an owner, optionally narrowed by
// comma separated tags (any of) and a content query.
func (h *MessageHandler) Organized(c echo.Context) error {
	msgs, err := h.ownerMessages(c)
	if err != nil {
		return err
	}

	org := hierarchy.Organize(msgs)
	if tags := tagging.SplitList(c.QueryParam("tags")); len(tags) > 0 {
		org = hierarchy.Filter(org, hierarchy.WithAnyTag(tags))
	}
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		org = hierarchy.Filter(org, hierarchy.ContentContains(q))
	}
	return c.JSON(http.StatusOK, OrganizedResponse{
		Owner:     c.Param("owner"),
		Total:     org.Count(),
		Organized: org,
	})
}

func (h *MessageHandler) Counts(c echo.Context) error {
	msgs, err := h.ownerMessages(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hierarchy.CountKinds(msgs))
}

func (h *MessageHandler) Get(c echo.Context) error {
	msg, err := h.authorizedMessage(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

// Related lists the owner's messages sharing at least min tags with the given one.
func (h *MessageHandler) Related(c echo.Context) error {
	msg, err := h.authorizedMessage(c)
	if err != nil {
		return err
	}
	minShared := 1
	if raw := c.QueryParam("min"); raw != "" {
		if minShared, err = strconv.Atoi(raw); err != nil || minShared < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "min must be a positive integer")
		}
	}

	candidates, err := h.store.ListMessages(c.Request().Context(), msg.Owner)
	if err != nil {
		return h.internal(err, "failed to list messages")
	}
	related := hierarchy.RelatedByTags(*msg, candidates, minShared)
	return c.JSON(http.StatusOK, OrganizedResponse{
		Owner:     msg.Owner,
		Total:     related.Count(),
		Organized: related,
	})
}

func (h *MessageHandler) Update(c echo.Context) error {
	msg, err := h.authorizedMessage(c)
	if err != nil {
		return err
	}

	var req UpdateMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	assign := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	assign(&msg.Content, req.Content)
	assign(&msg.Category, req.Category)
	assign(&msg.Subcategory, req.Subcategory)
	assign(&msg.ContentType, req.ContentType)
	assign(&msg.Purpose, req.Purpose)
	if msg.Processed && msg.Category == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "a processed message needs a category")
	}

	ctx := c.Request().Context()
	if err := h.store.UpdateMessage(ctx, msg); err != nil {
		return h.internal(err, "failed to update message")
	}

	if req.Tags != nil || req.NextSteps != nil {
		var tags, steps []string
		if req.Tags != nil {
			tags = append([]string{}, *req.Tags...)
		}
		if req.NextSteps != nil {
			steps = append([]string{}, *req.NextSteps...)
		}
		if err := h.linker.Replace(ctx, msg.ID, tags, steps); err != nil {
			h.logger.Warn("Failed to replace message labels", zap.Error(err), zap.String("message_id", msg.ID))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to update tags")
		}
	}

	updated, err := h.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return h.internal(err, "failed to reload message")
	}
	h.logger.Info("Message updated", zap.String("message_id", msg.ID))
	return c.JSON(http.StatusOK, updated)
}

// Delete removes the message with its next steps and tag links. The stored
// blob of a media message goes with it. Admins only.
func (h *MessageHandler) Delete(c echo.Context) error {
	requester, err := access.RequesterFromContext(c)
	if err != nil {
		return err
	}
	if !h.checker.IsAdmin(requester) {
		return echo.NewHTTPError(http.StatusForbidden, "admin only")
	}
	msg, err := h.authorizedMessage(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := h.store.DeleteMessage(ctx, msg.ID); err != nil {
		return h.internal(err, "failed to delete message")
	}
	if desc, err := media.ParseDescriptor(msg.Content); err == nil {
		if err := h.blobs.Delete(ctx, desc.Path); err != nil {
			h.logger.Warn("Failed to delete blob", zap.Error(err), zap.String("path", desc.Path))
		}
	}

	h.logger.Info("Message deleted", zap.String("message_id", msg.ID), zap.String("owner", msg.Owner))
	return c.NoContent(http.StatusNoContent)
}

// Reclassify queues the message again. Media messages are reprocessed from
// the stored blob their descriptor points at.
func (h *MessageHandler) Reclassify(c echo.Context) error {
	msg, err := h.authorizedMessage(c)
	if err != nil {
		return err
	}
	if msg.Kind.IsMedia() && !media.IsDescriptor(msg.Content) {
		return echo.NewHTTPError(http.StatusConflict, "media has not been stored yet")
	}

	id, err := h.submitter.Submit(c.Request().Context(), models.WorkItem{
		MessageID:  msg.ID,
		Source:     models.SourceInternal,
		SenderID:   msg.Owner,
		Kind:       msg.Kind,
		Content:    msg.Content,
		Reclassify: true,
	})
	if err != nil {
		return h.internal(err, "failed to queue message")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "message_id": id})
}

func (h *MessageHandler) MediaURL(c echo.Context) error {
	msg, err := h.authorizedMessage(c)
	if err != nil {
		return err
	}
	desc, err := media.ParseDescriptor(msg.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "message has no stored media")
	}
	link, err := h.blobs.SignedURL(desc.Path, h.urlTTL)
	if err != nil {
		return h.internal(err, "failed to sign media url")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"url":        link,
		"mime_type":  desc.MimeType,
		"expires_in": int(h.urlTTL.Seconds()),
	})
}

func (h *MessageHandler) ownerMessages(c echo.Context) ([]models.Message, error) {
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "owner is required")
	}
	if err := h.authorize(c, owner); err != nil {
		if errors.Is(err, access.ErrForbidden) {
			return nil, echo.NewHTTPError(http.StatusForbidden, "access denied")
		}
		return nil, err
	}
	msgs, err := h.store.ListMessages(c.Request().Context(), owner)
	if err != nil {
		return nil, h.internal(err, "failed to list messages")
	}
	return msgs, nil
}

func (h *MessageHandler) authorizedMessage(c echo.Context) (*models.Message, error) {
	msg, err := h.store.GetMessage(c.Request().Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "message not found")
	}
	if err != nil {
		return nil, h.internal(err, "failed to load message")
	}
	if err := h.authorize(c, msg.Owner); err != nil {
		// same answer as a missing message so ids cannot be probed
		if errors.Is(err, access.ErrForbidden) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return nil, err
	}
	return msg, nil
}

func (h *MessageHandler) authorize(c echo.Context, owner string) error {
	requester, err := access.RequesterFromContext(c)
	if err != nil {
		return err
	}
	return h.checker.Check(requester, owner)
}

func (h *MessageHandler) internal(err error, msg string) error {
	h.logger.Error(msg, zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}
