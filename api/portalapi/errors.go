package portalapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/issuance"
	"github.com/certifychain/certifychain/storage/model"
)

// Error codes used in error responses
const (
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeUnauthorized        = "unauthorized"
	ErrorCodeForbidden           = "forbidden"
	ErrorCodeNotFound            = "not_found"
	ErrorCodeConflict            = "conflict"
	ErrorCodeUserRejected        = "user_rejected"
	ErrorCodeWalletUnavailable   = "wallet_unavailable"
	ErrorCodeTransactionReverted = "transaction_reverted"
	ErrorCodeUpstream            = "upstream_error"
	ErrorCodeServerError         = "server_error"
)

// Error is the body of all error responses
type Error struct {
	Error            string             `json:"error"`
	ErrorDescription string             `json:"error_description"`
	Issuance         *issuance.Snapshot `json:"issuance,omitempty"`
}

func errorBody(code, description string) Error {
	return Error{
		Error:            code,
		ErrorDescription: description,
	}
}

// classify maps err to a status code and error code. fallback is used for
// errors that are not known to the api, e.g. the failure of a remote system
// during an issuance step.
func classify(err error, fallback int) (int, string) {
	var notFound model.NotFoundError
	var exists model.AlreadyExistsError
	var conflict model.ConflictError
	switch {
	case errors.Is(err, issuance.ErrValidation):
		return fiber.StatusBadRequest, ErrorCodeInvalidRequest
	case errors.Is(err, issuance.ErrRunNotFound), errors.As(err, &notFound):
		return fiber.StatusNotFound, ErrorCodeNotFound
	case errors.Is(err, chain.ErrUserRejected):
		return fiber.StatusConflict, ErrorCodeUserRejected
	case errors.Is(err, issuance.ErrStepInProgress), errors.Is(err, issuance.ErrWrongStep),
		errors.Is(err, issuance.ErrReceiptMismatch), errors.As(err, &exists), errors.As(err, &conflict):
		return fiber.StatusConflict, ErrorCodeConflict
	case errors.Is(err, chain.ErrWalletUnavailable):
		return fiber.StatusServiceUnavailable, ErrorCodeWalletUnavailable
	case errors.Is(err, chain.ErrTransactionReverted):
		return fiber.StatusBadGateway, ErrorCodeTransactionReverted
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, ErrorCodeUpstream
	}
	if fallback == fiber.StatusBadGateway {
		return fallback, ErrorCodeUpstream
	}
	return fiber.StatusInternalServerError, ErrorCodeServerError
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := classify(err, fiber.StatusInternalServerError)
	return c.Status(status).JSON(errorBody(code, err.Error()))
}

func badRequest(c *fiber.Ctx, description string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorBody(ErrorCodeInvalidRequest, description))
}

func forbidden(c *fiber.Ctx, description string) error {
	return c.Status(fiber.StatusForbidden).JSON(errorBody(ErrorCodeForbidden, description))
}

// writeIssuance writes the state of a run. Failed steps are reported with the
// run state attached so clients can show the status line and retry.
func writeIssuance(c *fiber.Ctx, snap *issuance.Snapshot, err error) error {
	if err == nil {
		return c.JSON(snap)
	}
	status, code := classify(err, fiber.StatusBadGateway)
	body := errorBody(code, err.Error())
	body.Issuance = snap
	return c.Status(status).JSON(body)
}
