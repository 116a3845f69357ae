// Package api is the thin ops surface of the service: health, metrics,
// manual sync trigger and the latest session status. It is deliberately not
// a tenant-facing API.
package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/pkg/model"
)

// Triggerer requests an out-of-schedule sync cycle.
type Triggerer interface {
	Trigger() bool
}

// SessionReader exposes the latest session for status queries.
type SessionReader interface {
	LatestSession(ctx context.Context) (*model.Session, error)
}

// SyncHandler serves the manual trigger and session-status endpoints.
type SyncHandler struct {
	logger   *zap.Logger
	runner   Triggerer
	sessions SessionReader
}

func NewSyncHandler(logger *zap.Logger, runner Triggerer, sessions SessionReader) *SyncHandler {
	return &SyncHandler{
		logger:   logger,
		runner:   runner,
		sessions: sessions,
	}
}

// TriggerSync queues a manual cycle. 409 means one is already queued.
func (h *SyncHandler) TriggerSync(c *fiber.Ctx) error {
	if !h.runner.Trigger() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status": "already_queued",
		})
	}
	h.logger.Info("api.sync_triggered")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "queued",
	})
}

// LatestSession returns the most recent session, or 404 when none has run.
func (h *SyncHandler) LatestSession(c *fiber.Ctx) error {
	sess, err := h.sessions.LatestSession(c.Context())
	if err != nil {
		h.logger.Error("api.latest_session_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load latest session",
		})
	}
	if sess == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no sync session recorded yet",
		})
	}
	return c.JSON(sess)
}
