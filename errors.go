package certifychain

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/api/portalapi"
)

func handleError(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	errCode := portalapi.ErrorCodeServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		switch {
		case code == fiber.StatusNotFound:
			errCode = portalapi.ErrorCodeNotFound
		case code < fiber.StatusInternalServerError:
			errCode = portalapi.ErrorCodeInvalidRequest
		}
	}
	if code >= fiber.StatusInternalServerError {
		log.WithError(err).WithField("path", ctx.Path()).Error("request failed")
	}
	return ctx.Status(code).JSON(
		portalapi.Error{
			Error:            errCode,
			ErrorDescription: err.Error(),
		},
	)
}
