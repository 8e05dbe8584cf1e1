package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"facesync/internal/config"
	"facesync/internal/gallery"
	"facesync/internal/middleware"
	"facesync/internal/models"
	"facesync/internal/repository"
	"facesync/internal/service"
)

type Uploader interface {
	Upload(ctx context.Context, handle models.ImageHandle, userID string) service.Outcome
	UploadBatch(ctx context.Context, handles []models.ImageHandle, userID string) []service.Outcome
}

type RecordLister interface {
	ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]models.ImageRecord, error)
	GetByID(ctx context.Context, userID, id string) (models.ImageRecord, error)
}

type RemoteLister interface {
	ListImages(ctx context.Context, userID string) ([]string, error)
	ListCroppedImages(ctx context.Context, userID string) ([]string, error)
}

type CaptureStore interface {
	Bucket() string
	PresignCapture(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP surface. Checks maps a dependency
// name to its health probe.
type Deps struct {
	Uploads  Uploader
	Records  RecordLister
	Remote   RemoteLister
	Captures CaptureStore
	Feed     gallery.Feed
	Views    *gallery.Registry
	Nonces   middleware.NonceGuard
	Checks   map[string]Pinger
}

type HandlerSet struct {
	log  zerolog.Logger
	cfg  *config.AppConfig
	deps Deps
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Deps) HandlerSet {
	return HandlerSet{
		log:  log,
		cfg:  cfg,
		deps: deps,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(h.cfg.Security.JWTSecret, h.log))

	uploads := v1.Group("/uploads")
	if h.cfg.Security.RequireSignature {
		uploads.Use(middleware.Signature(h.cfg.Security.SignatureSecret, h.deps.Nonces, h.batchBodyLimit()))
	}
	uploads.POST("", h.Upload)
	uploads.POST("/batch", h.UploadBatch)

	v1.POST("/captures", h.PresignCapture)
	v1.GET("/images", h.ListImages)
	v1.GET("/images/:id", h.GetImage)
	v1.GET("/remote/images", h.RemoteImages)
	v1.GET("/remote/cropped-images", h.RemoteCroppedImages)
	v1.GET("/gallery/live", h.LiveGallery)
}

func (h HandlerSet) galleryOptions() gallery.Options {
	return gallery.Options{
		DefaultPageSize: h.cfg.Gallery.DefaultPageSize,
		MaxPageSize:     h.cfg.Gallery.MaxPageSize,
		Registry:        h.deps.Views,
	}
}

// pageLimit parses a limit query value, clamping it to the configured
// maximum. Missing means the default page size.
func (h HandlerSet) pageLimit(raw string) (int, bool) {
	if raw == "" {
		return h.cfg.Gallery.DefaultPageSize, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, h.cfg.Gallery.MaxPageSize), true
}
