package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/koidc/internal/clients"
	"github.com/khanghh/koidc/model"
)

type ClientService interface {
	GetClientByClientID(ctx context.Context, clientID string) (*model.Client, error)
	Authenticate(ctx context.Context, clientID, clientSecret string) (*model.Client, error)
}

var errInvalidClient = errors.New("invalid client")

type clientCredentials struct {
	clientID     string
	clientSecret string
}

// parseBasicAuth decodes client_secret_basic credentials, whose parts are
// form encoded before base64 encoding.
func parseBasicAuth(header string) (clientCredentials, bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return clientCredentials{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return clientCredentials{}, false
	}
	id, secret, ok := strings.Cut(string(raw), ":")
	if !ok {
		return clientCredentials{}, false
	}
	id, err1 := url.QueryUnescape(id)
	secret, err2 := url.QueryUnescape(secret)
	if err1 != nil || err2 != nil {
		return clientCredentials{}, false
	}
	return clientCredentials{clientID: id, clientSecret: secret}, true
}

func readClientCredentials(ctx *fiber.Ctx) clientCredentials {
	if creds, ok := parseBasicAuth(ctx.Get(fiber.HeaderAuthorization)); ok {
		return creds
	}
	return clientCredentials{
		clientID:     ctx.FormValue("client_id"),
		clientSecret: ctx.FormValue("client_secret"),
	}
}

// resolveClient identifies the caller. Presented secrets must verify, a
// public client may identify itself by client_id alone. It returns a nil
// client when the caller cannot be determined.
func resolveClient(ctx *fiber.Ctx, clientService ClientService) (*model.Client, error) {
	creds := readClientCredentials(ctx)
	if creds.clientSecret != "" {
		client, err := clientService.Authenticate(ctx.Context(), creds.clientID, creds.clientSecret)
		if errors.Is(err, clients.ErrClientNotFound) || errors.Is(err, clients.ErrClientCredentials) {
			return nil, errInvalidClient
		}
		return client, err
	}

	client, err := clientService.GetClientByClientID(ctx.Context(), creds.clientID)
	if errors.Is(err, clients.ErrClientNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !client.Public {
		return nil, nil
	}
	return client, nil
}

func sendInvalidClient(ctx *fiber.Ctx) error {
	ctx.Set(fiber.HeaderWWWAuthenticate, `Basic realm="koidc"`)
	return ctx.Status(fiber.StatusUnauthorized).JSON(
		NewErrorResponse(ErrorInvalidClient, "client authentication failed"),
	)
}

func sendError(ctx *fiber.Ctx, status int, code, description string) error {
	ctx.Set(fiber.HeaderCacheControl, "no-store")
	return ctx.Status(status).JSON(NewErrorResponse(code, description))
}
