package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/studyhall-app/studyhall/app/models"
	"github.com/studyhall-app/studyhall/internal/pkg/database"
	"github.com/studyhall-app/studyhall/internal/pkg/entitlements"
)

// HandleUserEntitlements tells internal callers whether a user currently has
// premium access. Feature services query this instead of interpreting billing
// state themselves.
func HandleUserEntitlements(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("userID"), 10, 64)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	var user models.User
	if err := database.GetDB().First(&user, uint(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user_not_found"})
		}
		log.Errorf("[Entitlements] lookup failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(entitlements.SnapshotFor(&user, time.Now()))
}
