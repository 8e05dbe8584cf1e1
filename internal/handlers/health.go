package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Environment  string            `json:"environment"`
	GalleryViews int               `json:"galleryViews"`
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Health reports 503 when any dependency fails its ping.
func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.deps.Checks))
	for name := range h.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{
		Status:       "ok",
		Dependencies: make(map[string]string, len(names)),
		Environment:  h.cfg.Environment,
	}
	for _, name := range names {
		resp.Dependencies[name] = "ok"
		if err := h.deps.Checks[name].Ping(ctx); err != nil {
			resp.Dependencies[name] = "error"
			resp.Status = "degraded"
			h.log.Error().Err(err).Str("dependency", name).Msg("health check failed")
		}
	}
	if h.deps.Views != nil {
		resp.GalleryViews = h.deps.Views.Len()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
