package api

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/koidc/internal/audit"
	"github.com/khanghh/koidc/internal/ciba"
	"github.com/khanghh/koidc/internal/config"
	"github.com/khanghh/koidc/model"
	"github.com/khanghh/koidc/params"
	"github.com/spf13/cast"
)

type CibaStore interface {
	Register(ctx context.Context, req *ciba.CacheControl, expiresIn int) error
}

type CibaHandler struct {
	clientService ClientService
	cibaStore     CibaStore
	config        config.CibaConfig
}

func hasOpenIDScope(scope string) bool {
	return slices.Contains(strings.Fields(scope), "openid")
}

// PostBackchannelAuthorize registers a backchannel authentication request.
func (h *CibaHandler) PostBackchannelAuthorize(ctx *fiber.Ctx) error {
	creds := readClientCredentials(ctx)
	if creds.clientSecret == "" {
		return sendInvalidClient(ctx)
	}
	client, err := resolveClient(ctx, h.clientService)
	if errors.Is(err, errInvalidClient) {
		return sendInvalidClient(ctx)
	}
	if err != nil {
		return err
	}

	if !client.HasGrantType(params.CibaGrantType) {
		return sendError(ctx, fiber.StatusBadRequest, ErrorUnauthorizedClient, "client is not allowed to use the ciba grant")
	}

	scope := ctx.FormValue("scope")
	if !hasOpenIDScope(scope) {
		return sendError(ctx, fiber.StatusBadRequest, ErrorInvalidScope, "scope must include openid")
	}
	loginHint := strings.TrimSpace(ctx.FormValue("login_hint"))
	if loginHint == "" {
		return sendError(ctx, fiber.StatusBadRequest, ErrorInvalidRequest, "login_hint is required")
	}

	mode := client.BackchannelDeliveryMode
	if mode == "" {
		mode = model.DeliveryModePoll
	}
	notificationToken := ctx.FormValue("client_notification_token")
	if mode != model.DeliveryModePoll && notificationToken == "" {
		return sendError(ctx, fiber.StatusBadRequest, ErrorInvalidRequest, "client_notification_token is required")
	}

	expiresIn := h.config.DefaultExpiresIn
	if requested := ctx.FormValue("requested_expiry"); requested != "" {
		expiresIn, err = cast.ToIntE(requested)
		if err != nil || expiresIn <= 0 {
			return sendError(ctx, fiber.StatusBadRequest, ErrorInvalidRequest, "requested_expiry must be a positive integer")
		}
	}

	req := ciba.NewCacheControl(client, loginHint, scope, notificationToken)
	req.DeliveryMode = string(mode)
	if err := h.cibaStore.Register(ctx.Context(), req, expiresIn); err != nil {
		slog.Error("Failed to register ciba request", "clientID", client.ClientID, "error", err)
		return err
	}

	err = audit.RecordCibaRegistered(ctx.Context(), audit.CibaRecord{
		ClientID:  client.ClientID,
		UserID:    loginHint,
		AuthReqID: req.AuthReqID,
		IP:        ctx.IP(),
		UserAgent: ctx.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		slog.Error("Failed to record ciba registration audit event", "authReqID", req.AuthReqID, "error", err)
	}

	resp := BackchannelAuthResponse{
		AuthReqID: req.AuthReqID,
		ExpiresIn: expiresIn,
	}
	if mode != model.DeliveryModePush {
		resp.Interval = h.config.PollInterval
	}
	ctx.Set(fiber.HeaderCacheControl, "no-store")
	return ctx.Status(fiber.StatusOK).JSON(resp)
}

func NewCibaHandler(clientService ClientService, cibaStore CibaStore, cfg config.CibaConfig) *CibaHandler {
	if cfg.DefaultExpiresIn <= 0 {
		cfg.DefaultExpiresIn = params.CibaDefaultExpiresIn
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = params.CibaDefaultPollInterval
	}
	return &CibaHandler{
		clientService: clientService,
		cibaStore:     cibaStore,
		config:        cfg,
	}
}
