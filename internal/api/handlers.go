package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/jabook/bookcache/internal/models"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.cache.GetCacheStatus())
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query parameter q is required"})
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	category := c.Query("category")

	results := s.cache.Search(c.UserContext(), query, limit, category)
	return c.JSON(fiber.Map{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleStartSync(c *fiber.Ctx) error {
	if err := s.cache.StartFullSync(c.UserContext()); err != nil {
		s.logger.WithError(err).Error("Failed to start sync")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to start sync"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"started": true})
}

func (s *Server) handleStopSync(c *fiber.Ctx) error {
	s.cache.StopSync()
	return c.JSON(fiber.Map{"stopped": true})
}

func (s *Server) handleProgress(c *fiber.Ctx) error {
	settings, err := s.cache.GetCacheSettings()
	if err != nil || settings.LastSyncProgress == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(settings.LastSyncProgress)
}

func (s *Server) handleCleanup(c *fiber.Ctx) error {
	removed, err := s.cache.CleanupStaleData()
	if err != nil {
		s.logger.WithError(err).Error("Cleanup failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cleanup failed"})
	}
	return c.JSON(fiber.Map{"removed": removed})
}

func (s *Server) handleClearCache(c *fiber.Ctx) error {
	if err := s.cache.ClearCache(); err != nil {
		s.logger.WithError(err).Error("Failed to clear cache")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to clear cache"})
	}
	return c.JSON(fiber.Map{"cleared": true})
}

func (s *Server) handleRebuildIndex(c *fiber.Ctx) error {
	if err := s.cache.RebuildIndex(); err != nil {
		s.logger.WithError(err).Error("Index rebuild failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "index rebuild failed"})
	}
	return c.JSON(fiber.Map{"rebuilt": true})
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	settings, err := s.cache.GetCacheSettings()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load settings")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load settings"})
	}
	return c.JSON(settings)
}

func (s *Server) handleUpdateSettings(c *fiber.Ctx) error {
	var settings models.CacheSettings
	if err := c.BodyParser(&settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid settings payload"})
	}
	if settings.CacheTTL <= 0 || settings.AutoUpdateInterval <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_ttl and auto_update_interval must be positive"})
	}
	if err := s.cache.UpdateCacheSettings(&settings); err != nil {
		s.logger.WithError(err).Error("Failed to update settings")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update settings"})
	}
	return c.JSON(settings)
}

func (s *Server) handleSimilar(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	results, err := s.cache.FindSimilar(c.Params("topicID"), limit)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "topic not found"})
	}
	return c.JSON(fiber.Map{
		"count":   len(results),
		"results": results,
	})
}
