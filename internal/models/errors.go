package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL_ERROR"
	CodeBlacklisted            = "BLACKLISTED"
	CodeDuplicatePending       = "DUPLICATE_PENDING"
	CodeAmountExceedsCap       = "AMOUNT_EXCEEDS_CAP"
	CodeAlreadyApproved        = "ALREADY_APPROVED"
	CodeRequestNotPending      = "REQUEST_NOT_PENDING"
	CodeTokenAcquisition       = "TOKEN_ACQUISITION_FAILED"
	CodeChallengeVerification  = "CHALLENGE_VERIFICATION_FAILED"
	CodeChallengeContinuation  = "CHALLENGE_CONTINUATION_FAILED"
	CodeTransferRejected       = "TRANSFER_REJECTED"
	CodeCancelled              = "CANCELLED"
	CodeTransportFailure       = "TRANSPORT_FAILURE"
	CodePayoutsPaused          = "PAYOUTS_PAUSED"
	CodeDirectoryUnavailable   = "DIRECTORY_UNAVAILABLE"
	CodeUnreconciledTransition = "UNRECONCILED_TRANSITION"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// CodeOf returns the AppError code anywhere in err's chain, or "" when none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given AppError code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// Lifecycle errors.

func NewBlacklistedError(userID int64) *AppError {
	return &AppError{
		Code:    CodeBlacklisted,
		Message: fmt.Sprintf("Payout recipient %d is blacklisted", userID),
	}
}

func NewDuplicatePendingError(userID int64) *AppError {
	return &AppError{
		Code:    CodeDuplicatePending,
		Message: fmt.Sprintf("User %d already has a pending payout request", userID),
	}
}

func NewAmountExceedsCapError(amount, limit int64) *AppError {
	return &AppError{
		Code:    CodeAmountExceedsCap,
		Message: fmt.Sprintf("Amount %d exceeds the maximum transaction limit of %d", amount, limit),
	}
}

func NewAlreadyApprovedError(requestID uint) *AppError {
	return &AppError{
		Code:    CodeAlreadyApproved,
		Message: fmt.Sprintf("Payout request %d is already approved", requestID),
	}
}

func NewRequestNotPendingError(requestID uint, status PayoutStatus) *AppError {
	return &AppError{
		Code:    CodeRequestNotPending,
		Message: fmt.Sprintf("Payout request %d is %s and can no longer change", requestID, status),
	}
}

func NewPayoutsPausedError() *AppError {
	return &AppError{
		Code:    CodePayoutsPaused,
		Message: "Payout execution is paused",
	}
}

func NewDirectoryUnavailableError(err error) *AppError {
	return &AppError{
		Code:    CodeDirectoryUnavailable,
		Message: "Group directory unavailable",
		Err:     err,
	}
}

// Protocol errors.

func NewTokenAcquisitionError(err error) *AppError {
	return &AppError{
		Code:    CodeTokenAcquisition,
		Message: "Unable to acquire anti-forgery token",
		Err:     err,
	}
}

func NewChallengeVerificationError(reason string, err error) *AppError {
	return &AppError{
		Code:    CodeChallengeVerification,
		Message: withReason("Second-factor challenge verification failed", reason),
		Err:     err,
	}
}

func NewChallengeContinuationError(reason string, err error) *AppError {
	return &AppError{
		Code:    CodeChallengeContinuation,
		Message: withReason("Second-factor challenge continuation failed", reason),
		Err:     err,
	}
}

// NewTransferRejectedError carries the reason extracted from the external response.
func NewTransferRejectedError(status int, reason string) *AppError {
	msg := fmt.Sprintf("Payout transfer rejected with status %d", status)
	return &AppError{
		Code:    CodeTransferRejected,
		Message: withReason(msg, reason),
	}
}

func NewCancelledError(err error) *AppError {
	return &AppError{
		Code:    CodeCancelled,
		Message: "Payout execution cancelled",
		Err:     err,
	}
}

func NewTransportError(err error) *AppError {
	return &AppError{
		Code:    CodeTransportFailure,
		Message: "Transport failure talking to the payout service",
		Err:     err,
	}
}

// NewUnreconciledError marks a transfer that went through but whose status
// commit did not. These need an operator.
func NewUnreconciledError(requestID uint, err error) *AppError {
	return &AppError{
		Code:    CodeUnreconciledTransition,
		Message: fmt.Sprintf("Payout for request %d was sent but the approval could not be recorded", requestID),
		Err:     err,
	}
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + ": " + reason
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
