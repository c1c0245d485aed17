package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/koidc/internal/revoke"
)

type RevokeService interface {
	Revoke(ctx context.Context, req revoke.RevokeRequest) (*revoke.RevokeResult, error)
}

type RevokeHandler struct {
	clientService ClientService
	revokeService RevokeService
}

// PostRevoke implements token revocation. Unknown tokens and unknown callers
// get the same empty 200 answer as a successful revocation.
func (h *RevokeHandler) PostRevoke(ctx *fiber.Ctx) error {
	client, err := resolveClient(ctx, h.clientService)
	if errors.Is(err, errInvalidClient) {
		return sendInvalidClient(ctx)
	}
	if err != nil {
		return err
	}

	_, err = h.revokeService.Revoke(ctx.Context(), revoke.RevokeRequest{
		Token:         ctx.FormValue("token"),
		TokenTypeHint: ctx.FormValue("token_type_hint"),
		Client:        client,
		IP:            ctx.IP(),
		UserAgent:     ctx.Get(fiber.HeaderUserAgent),
	})
	var reqErr *revoke.RequestError
	if errors.As(err, &reqErr) {
		return sendError(ctx, fiber.StatusBadRequest, reqErr.Code, reqErr.Description)
	}
	if err != nil {
		return err
	}

	ctx.Set(fiber.HeaderCacheControl, "no-store")
	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{})
}

func NewRevokeHandler(clientService ClientService, revokeService RevokeService) *RevokeHandler {
	return &RevokeHandler{
		clientService: clientService,
		revokeService: revokeService,
	}
}
