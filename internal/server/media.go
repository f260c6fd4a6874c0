package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/xaenox/memo-organizer/internal/blobstore"
	"github.com/xaenox/memo-organizer/internal/media"
	"go.uber.org/zap"
)

// MediaHandler serves stored blobs behind signed, expiring links.
type MediaHandler struct {
	blobs  blobstore.Store
	logger *zap.Logger
}

func NewMediaHandler(blobs blobstore.Store, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{blobs: blobs, logger: logger}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/media", h.Serve)
}

func (h *MediaHandler) Serve(c echo.Context) error {
	path := c.QueryParam("path")
	expires, err := strconv.ParseInt(c.QueryParam("expires"), 10, 64)
	if path == "" || err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "path and expires are required")
	}
	if err := h.blobs.Verify(path, expires, c.QueryParam("sig")); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	data, err := h.blobs.Load(c.Request().Context(), path)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	case errors.Is(err, blobstore.ErrPathTraversal):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path")
	case err != nil:
		h.logger.Error("Failed to load media", zap.Error(err), zap.String("path", path))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load media")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		"inline; filename=\""+blobstore.FileName(path)+"\"")
	return c.Blob(http.StatusOK, media.DetectMIME(data), data)
}
