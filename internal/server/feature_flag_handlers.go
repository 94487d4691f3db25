package server

import (
	"log/slog"

	"finsys/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// FeatureFlagUpdate is the body of PUT /admin/feature-flags. An empty value
// removes the override.
type FeatureFlagUpdate struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// GetFeatureFlags returns the configured flags and their global evaluation.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(0),
	})
}

// UpdateFeatureFlag flips one flag at runtime, e.g. payout_execution=off.
func (s *Server) UpdateFeatureFlag(c *fiber.Ctx) error {
	var body FeatureFlagUpdate
	if err := parseBody(c, &body); err != nil {
		return respondError(c, err)
	}

	s.featureFlags.Set(body.Name, body.Value)
	middleware.Logger.WarnContext(c.UserContext(), "feature flag changed",
		slog.String("flag", body.Name), slog.String("value", body.Value))

	return s.GetFeatureFlags(c)
}
