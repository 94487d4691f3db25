package server

import (
	"log/slog"
	"strconv"

	"finsys/internal/middleware"
	"finsys/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// statusByCode maps domain error codes to HTTP statuses. Unknown codes are 500.
var statusByCode = map[string]int{
	models.CodeValidation:            fiber.StatusBadRequest,
	models.CodeBlacklisted:           fiber.StatusBadRequest,
	models.CodeDuplicatePending:      fiber.StatusBadRequest,
	models.CodeAmountExceedsCap:      fiber.StatusBadRequest,
	models.CodeForbidden:             fiber.StatusForbidden,
	models.CodeNotFound:              fiber.StatusNotFound,
	models.CodeAlreadyApproved:       fiber.StatusConflict,
	models.CodeRequestNotPending:     fiber.StatusConflict,
	models.CodeCancelled:             fiber.StatusRequestTimeout,
	models.CodeTokenAcquisition:      fiber.StatusBadGateway,
	models.CodeChallengeVerification: fiber.StatusBadGateway,
	models.CodeChallengeContinuation: fiber.StatusBadGateway,
	models.CodeTransferRejected:      fiber.StatusBadGateway,
	models.CodeTransportFailure:      fiber.StatusBadGateway,
	models.CodeDirectoryUnavailable:  fiber.StatusBadGateway,
	models.CodePayoutsPaused:         fiber.StatusServiceUnavailable,
}

func statusFor(err error) int {
	if status, ok := statusByCode[models.CodeOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// respondError writes err with its mapped status. Server-side failures are logged.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.String("code", models.CodeOf(err)),
			slog.String("error", err.Error()),
		)
	}
	return models.RespondWithError(c, status, err)
}

// parseBody decodes and validates the JSON body into out.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	if err := validate.Struct(out); err != nil {
		return models.NewValidationError(err.Error())
	}
	return nil
}

// queryUserID reads the userId query parameter. ok is false when it is absent.
func queryUserID(c *fiber.Ctx) (userID int64, ok bool, err error) {
	raw := c.Query("userId")
	if raw == "" {
		return 0, false, nil
	}
	id, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil || id <= 0 {
		return 0, false, models.NewValidationError("Invalid user ID")
	}
	return id, true, nil
}
