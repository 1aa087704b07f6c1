package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/stablewatch/internal/queue"
	"github.com/your-org/stablewatch/internal/registry"
	"github.com/your-org/stablewatch/internal/storage"
)

type SystemHandler struct {
	db       *storage.PostgresStore
	archive  *storage.ArchiveStore
	hot      *registry.HotStore
	producer *queue.Producer
}

func NewSystemHandler(db *storage.PostgresStore, archive *storage.ArchiveStore, hot *registry.HotStore, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{db: db, archive: archive, hot: hot, producer: producer}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	probe := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	probe("postgres", func() error { return h.db.Ping(ctx) })
	probe("redis", func() error { return h.hot.Ping(ctx) })
	probe("minio", func() error { return h.archive.Ping(ctx) })
	probe("nats", h.producer.Ping)

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
