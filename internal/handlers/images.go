package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"facesync/internal/middleware"
	"facesync/internal/models"
	"facesync/internal/repository"
	"facesync/internal/security"
)

type imagePage struct {
	Records    []models.ImageRecord `json:"records"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// ListImages returns one page of the caller's records, newest first.
// nextCursor is set while more records may follow.
func (h HandlerSet) ListImages(c *gin.Context) {
	userID := middleware.UserID(c)

	limit, ok := h.pageLimit(c.Query("limit"))
	if !ok {
		h.respondError(c, fmt.Errorf("%w: limit must be a positive integer", models.ErrValidation))
		return
	}

	kind := models.ImageKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		h.respondError(c, fmt.Errorf("%w: kind must be original or cropped", models.ErrValidation))
		return
	}

	scope := cursorScope(userID, kind)
	opts := repository.ListOptions{Limit: limit, Kind: kind}
	if raw := c.Query("cursor"); raw != "" {
		at, id, err := security.DecodeCursor(h.cfg.Security.CursorSecret, scope, raw)
		if err != nil {
			h.respondError(c, fmt.Errorf("%w: %v", models.ErrValidation, err))
			return
		}
		opts.After = &repository.Cursor{UploadedAt: at, ID: id}
	}

	records, err := h.deps.Records.ListByUser(c.Request.Context(), userID, opts)
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: list records: %w", models.ErrRead, err))
		return
	}

	page := imagePage{Records: records}
	if page.Records == nil {
		page.Records = []models.ImageRecord{}
	}
	if len(records) == limit {
		last := records[len(records)-1]
		page.NextCursor = security.EncodeCursor(h.cfg.Security.CursorSecret, scope, last.UploadedAt, last.ID)
	}
	c.JSON(http.StatusOK, page)
}

// GetImage returns one of the caller's records. Records of other users are
// reported as missing.
func (h HandlerSet) GetImage(c *gin.Context) {
	rec, err := h.deps.Records.GetByID(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		if !errors.Is(err, repository.ErrRecordNotFound) {
			err = fmt.Errorf("%w: get record: %w", models.ErrRead, err)
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h HandlerSet) RemoteImages(c *gin.Context) {
	urls, err := h.deps.Remote.ListImages(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": nonNil(urls)})
}

func (h HandlerSet) RemoteCroppedImages(c *gin.Context) {
	urls, err := h.deps.Remote.ListCroppedImages(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"croppedImages": nonNil(urls)})
}

func cursorScope(userID string, kind models.ImageKind) string {
	return userID + "|" + string(kind)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
