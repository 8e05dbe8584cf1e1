package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"facesync/internal/ids"
	"facesync/internal/middleware"
	"facesync/internal/models"
	"facesync/internal/service"
	"facesync/internal/source"
	"facesync/internal/storage"
)

const (
	maxBatchFiles     = 20
	multipartOverhead = 1 << 20
	captureURLTTL     = 15 * time.Minute
)

type recordFailure struct {
	Kind     models.ImageKind `json:"kind"`
	ImageURL string           `json:"imageUrl"`
}

type uploadResponse struct {
	Status      models.UploadStatus  `json:"status"`
	Partial     bool                 `json:"partial"`
	Message     string               `json:"message,omitempty"`
	FileName    string               `json:"fileName"`
	OriginalURL string               `json:"originalUrl"`
	CroppedURLs []string             `json:"croppedUrls"`
	Records     []models.ImageRecord `json:"records"`
	NotSaved    []recordFailure      `json:"notSaved,omitempty"`
}

type batchItem struct {
	Index  int             `json:"index"`
	OK     bool            `json:"ok"`
	Upload *uploadResponse `json:"upload,omitempty"`
	Error  *errorBody      `json:"error,omitempty"`
}

type uriUploadRequest struct {
	URI         string `json:"uri" binding:"required"`
	MimeType    string `json:"mimeType"`
	DisplayName string `json:"displayName"`
}

type captureRequest struct {
	FileName string `json:"fileName"`
}

type captureResponse struct {
	URI       string    `json:"uri"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Upload submits one image. The image is either the multipart field "file"
// or, for JSON bodies, an s3:// capture previously stored through
// PresignCapture.
func (h HandlerSet) Upload(c *gin.Context) {
	userID := middleware.UserID(c)

	if c.ContentType() == gin.MIMEJSON {
		h.uploadByURI(c, userID)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Processing.MaxUploadBytes+multipartOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: multipart field \"file\" is required: %v", models.ErrValidation, err))
		return
	}

	dir, err := os.MkdirTemp("", "facesync-upload-*")
	if err != nil {
		h.respondError(c, fmt.Errorf("create staging dir: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	handle, err := h.stage(c, dir, header, c.PostForm("displayName"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondOutcome(c, h.deps.Uploads.Upload(c.Request.Context(), handle, userID))
}

func (h HandlerSet) uploadByURI(c *gin.Context, userID string) {
	var req uriUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}
	if err := h.ownCapture(req.URI, userID); err != nil {
		h.respondError(c, err)
		return
	}

	handle := models.ImageHandle{URI: req.URI, MimeType: req.MimeType, DisplayName: req.DisplayName}
	h.respondOutcome(c, h.deps.Uploads.Upload(c.Request.Context(), handle, userID))
}

// UploadBatch submits every multipart "files" entry independently. The
// response is 200 with one item per file, in request order.
func (h HandlerSet) UploadBatch(c *gin.Context) {
	userID := middleware.UserID(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.batchBodyLimit())
	form, err := c.MultipartForm()
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: multipart form: %v", models.ErrValidation, err))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		h.respondError(c, fmt.Errorf("%w: multipart field \"files\" is required", models.ErrValidation))
		return
	}
	if len(files) > maxBatchFiles {
		h.respondError(c, fmt.Errorf("%w: at most %d files per batch", models.ErrValidation, maxBatchFiles))
		return
	}

	dir, err := os.MkdirTemp("", "facesync-batch-*")
	if err != nil {
		h.respondError(c, fmt.Errorf("create staging dir: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	items := make([]batchItem, len(files))
	var (
		handles []models.ImageHandle
		indexes []int
	)
	for i, header := range files {
		items[i].Index = i
		handle, err := h.stage(c, dir, header, "")
		if err != nil {
			body := describe(err)
			items[i].Error = &body
			continue
		}
		handles = append(handles, handle)
		indexes = append(indexes, i)
	}

	outcomes := h.deps.Uploads.UploadBatch(c.Request.Context(), handles, userID)
	for j, out := range outcomes {
		item := &items[indexes[j]]
		if out.Err != nil && !out.Partial() {
			body := describe(out.Err)
			item.Error = &body
			continue
		}
		resp := newUploadResponse(out)
		item.OK = true
		item.Upload = &resp
	}

	c.JSON(http.StatusOK, gin.H{"results": items})
}

// PresignCapture hands out an upload URL inside the caller's capture area.
// The returned uri is what a later JSON upload refers to.
func (h HandlerSet) PresignCapture(c *gin.Context) {
	userID := middleware.UserID(c)

	var req captureRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.respondError(c, fmt.Errorf("%w: %v", models.ErrValidation, err))
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	if ext == "" {
		ext = ".jpg"
	}
	key := storage.CaptureKey(userID, ids.New()+ext)
	uploadURL, err := h.deps.Captures.PresignCapture(c.Request.Context(), key, captureURLTTL)
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: %w", models.ErrNetwork, err))
		return
	}

	c.JSON(http.StatusCreated, captureResponse{
		URI:       source.ObjectURI(h.deps.Captures.Bucket(), key),
		UploadURL: uploadURL,
		ExpiresAt: time.Now().Add(captureURLTTL).UTC(),
	})
}

func (h HandlerSet) respondOutcome(c *gin.Context, out service.Outcome) {
	if out.Err != nil && !out.Partial() {
		h.respondError(c, out.Err)
		return
	}
	if out.Err != nil {
		h.log.Warn().Err(out.Err).
			Str("user_id", middleware.UserID(c)).
			Str("original_url", out.Result.OriginalURL).
			Msg("upload partially recorded")
	}
	c.JSON(http.StatusOK, newUploadResponse(out))
}

func newUploadResponse(out service.Outcome) uploadResponse {
	resp := uploadResponse{
		Status:      out.Result.Status,
		Partial:     out.Result.Status == models.UploadStatusPartialFailure,
		Message:     out.Result.Message,
		FileName:    out.Result.FileName,
		OriginalURL: out.Result.OriginalURL,
		CroppedURLs: out.Result.CroppedURLs,
		Records:     out.Records,
	}
	if resp.CroppedURLs == nil {
		resp.CroppedURLs = []string{}
	}
	if resp.Records == nil {
		resp.Records = []models.ImageRecord{}
	}

	var writeErr *models.WriteError
	if errors.As(out.Err, &writeErr) {
		resp.Partial = true
		for _, f := range writeErr.Failures {
			resp.NotSaved = append(resp.NotSaved, recordFailure{Kind: f.Kind, ImageURL: f.ImageURL})
		}
	}
	return resp
}

// stage saves one multipart file to dir and returns a file:// handle for
// it. Only image content types are passed on as the declared type.
func (h HandlerSet) stage(c *gin.Context, dir string, header *multipart.FileHeader, displayName string) (models.ImageHandle, error) {
	if header.Size > h.cfg.Processing.MaxUploadBytes {
		return models.ImageHandle{}, fmt.Errorf("%w: %s exceeds %d bytes", models.ErrValidation, header.Filename, h.cfg.Processing.MaxUploadBytes)
	}

	dst := filepath.Join(dir, ids.New()+strings.ToLower(filepath.Ext(header.Filename)))
	if err := c.SaveUploadedFile(header, dst); err != nil {
		return models.ImageHandle{}, fmt.Errorf("stage %s: %w", header.Filename, err)
	}

	declared := header.Header.Get("Content-Type")
	if !strings.HasPrefix(declared, "image/") {
		declared = ""
	}
	if displayName == "" {
		displayName = filepath.Base(header.Filename)
	}

	return models.ImageHandle{
		URI:         (&url.URL{Scheme: "file", Path: dst}).String(),
		MimeType:    declared,
		DisplayName: displayName,
	}, nil
}

// ownCapture accepts only s3:// handles inside the caller's capture area.
func (h HandlerSet) ownCapture(uri, userID string) error {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" {
		return fmt.Errorf("%w: uri must be an s3:// capture", models.ErrValidation)
	}
	bucket, key := source.ObjectLocation(u)
	prefix := storage.CaptureKey(userID, "")
	if bucket != h.deps.Captures.Bucket() || !strings.HasPrefix(key, prefix+"/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: uri is outside the caller's capture area", models.ErrValidation)
	}
	return nil
}

func (h HandlerSet) batchBodyLimit() int64 {
	return h.cfg.Processing.MaxUploadBytes*maxBatchFiles + multipartOverhead
}
