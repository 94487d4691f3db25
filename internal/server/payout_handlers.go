package server

import (
	"fmt"

	"finsys/internal/models"
	"finsys/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePayoutRequest is the body of POST /create-payout.
type CreatePayoutRequest struct {
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required"`
}

// UpdatePayoutStatusRequest is the body of POST /update-payout-status.
type UpdatePayoutStatusRequest struct {
	RequestID       uint    `json:"requestId" validate:"required,gt=0"`
	Status          string  `json:"status" validate:"required,oneof=pending approved rejected"`
	RejectionReason *string `json:"rejectionReason"`
	ApproverID      *int64  `json:"approverId" validate:"omitempty,gt=0"`
}

// CreatePayout files a new pending request.
func (s *Server) CreatePayout(c *fiber.Ctx) error {
	var body CreatePayoutRequest
	if err := parseBody(c, &body); err != nil {
		return respondError(c, err)
	}

	req, err := s.payouts.CreateRequest(c.UserContext(), service.CreateRequestInput{
		UserID: body.UserID,
		Amount: body.Amount,
		Reason: body.Reason,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Payout request created successfully.",
		"id":      req.ID,
	})
}

// UpdatePayoutStatus approves (and pays) or rejects a pending request.
func (s *Server) UpdatePayoutStatus(c *fiber.Ctx) error {
	var body UpdatePayoutStatusRequest
	if err := parseBody(c, &body); err != nil {
		return respondError(c, err)
	}

	updated, err := s.payouts.TransitionRequest(c.UserContext(), service.TransitionInput{
		RequestID:       body.RequestID,
		Status:          models.PayoutStatus(body.Status),
		RejectionReason: body.RejectionReason,
		ApproverID:      body.ApproverID,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": fmt.Sprintf("Payout request status updated to %s.", updated.Status),
	})
}

// GetPendingRequests lists requests, for one user when userId is given.
func (s *Server) GetPendingRequests(c *fiber.Ctx) error {
	userID, scoped, err := queryUserID(c)
	if err != nil {
		return respondError(c, err)
	}

	in := service.ListInput{
		Offset: c.QueryInt("offset", 0),
		Limit:  c.QueryInt("limit", 0),
	}
	if scoped {
		in.UserID = &userID
	}

	requests, err := s.payouts.ListRequests(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	if requests == nil {
		requests = []models.PayoutRequest{}
	}
	return c.JSON(fiber.Map{"requests": requests})
}

// GetPermissions reports what userId may do.
func (s *Server) GetPermissions(c *fiber.Ctx) error {
	userID, ok, err := queryUserID(c)
	if err != nil {
		return respondError(c, err)
	}
	if !ok {
		return respondError(c, models.NewValidationError("userId is required"))
	}

	perms, err := s.payouts.ResolvePermissions(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(perms)
}
