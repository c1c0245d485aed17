package middlewares

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/koidc/internal/handlers/api"
)

func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	switch code {
	case fiber.StatusBadRequest:
		return ctx.Status(code).JSON(api.NewErrorResponse(api.ErrorInvalidRequest, fiberErr.Message))
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return ctx.Status(code).JSON(api.NewErrorResponse("not_found", fiberErr.Message))
	default:
		if code < fiber.StatusInternalServerError && fiberErr != nil {
			return ctx.Status(code).JSON(api.NewErrorResponse(api.ErrorInvalidRequest, fiberErr.Message))
		}
		slog.Error("unhandled error",
			"path", ctx.Path(),
			"code", code,
			"requestID", ctx.Locals("requestid"),
			"error", err,
		)
		return ctx.Status(code).JSON(api.NewErrorResponse(api.ErrorServerError, "internal server error"))
	}
}
