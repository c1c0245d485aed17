package revoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/khanghh/koidc/internal/audit"
	"github.com/khanghh/koidc/internal/common"
	"github.com/khanghh/koidc/internal/config"
	"github.com/khanghh/koidc/internal/grants"
	"github.com/khanghh/koidc/model"
	"github.com/khanghh/koidc/params"
)

type TokenService interface {
	ByAccessToken(ctx context.Context, value string) (*grants.Grant, error)
	ByCode(ctx context.Context, value string) (*grants.Grant, error)
	RevokeGrant(ctx context.Context, grantID string) (int64, error)
	RevokeClientTokens(ctx context.Context, clientID string, types ...model.TokenType) (int64, error)
}

type RevokeRequest struct {
	Token         string        // one or more space separated token values, or "all"
	TokenTypeHint string        // optional
	Client        *model.Client // nil when the caller could not be resolved
	IP            string
	UserAgent     string
}

type RevokeResult struct {
	Removed int64
}

type RevokeService struct {
	tokenService TokenService
	config       config.RevocationConfig
}

// Revoke removes every token of the grants the given values belong to.
// Unknown tokens and unresolved clients are not errors. Exactly one audit
// event is recorded per call.
func (s *RevokeService) Revoke(ctx context.Context, req RevokeRequest) (result *RevokeResult, err error) {
	result = &RevokeResult{}
	defer func() { s.recordAudit(ctx, req, result, err) }()

	if strings.TrimSpace(req.Token) == "" {
		return result, invalidRequest("token is required")
	}
	if req.Client == nil {
		slog.Debug("Revoke request without resolvable client ignored")
		return result, nil
	}

	if req.Token == params.RevokeAllTokensValue && s.config.AllowAllTokens {
		result.Removed, err = s.revokeAll(ctx, req.Client, req.TokenTypeHint)
		return result, err
	}

	for _, value := range strings.Fields(req.Token) {
		removed, err := s.revokeToken(ctx, req.Client, value, req.TokenTypeHint)
		result.Removed += removed
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *RevokeService) revokeAll(ctx context.Context, client *model.Client, hint string) (int64, error) {
	var types []model.TokenType
	if tokenType := grants.TokenTypeFromHint(hint); tokenType != "" {
		types = append(types, tokenType)
	}
	removed, err := s.tokenService.RevokeClientTokens(ctx, client.ClientID, types...)
	if err != nil {
		return removed, fmt.Errorf("revoke tokens of client %s: %w", client.ClientID, err)
	}
	slog.Info("Revoked all tokens of client", "clientID", client.ClientID, "hint", hint, "count", removed)
	return removed, nil
}

func (s *RevokeService) resolveGrant(ctx context.Context, value, hint string) (*grants.Grant, error) {
	switch grants.TokenTypeFromHint(hint) {
	case model.TokenTypeAccessToken, model.TokenTypeTxToken:
		return s.tokenService.ByAccessToken(ctx, value)
	default:
		return s.tokenService.ByCode(ctx, value)
	}
}

func (s *RevokeService) checkOwnership(client *model.Client, grant *grants.Grant) error {
	if grant.ClientID == client.ClientID {
		return nil
	}
	if !s.config.AllowCrossClient {
		return invalidRequest("cross-client revocation is disabled")
	}
	if !client.HasScope(s.config.RevokeAnyTokenScope) {
		return invalidRequest("client does not have required scope")
	}
	return nil
}

func (s *RevokeService) revokeToken(ctx context.Context, client *model.Client, value, hint string) (int64, error) {
	grant, err := s.resolveGrant(ctx, value, hint)
	if errors.Is(err, grants.ErrGrantNotFound) {
		slog.Debug("Revoke of unknown token ignored", "token", common.MaskSecret(value), "clientID", client.ClientID)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve grant: %w", err)
	}

	if err := s.checkOwnership(client, grant); err != nil {
		slog.Warn("Revoke rejected",
			"clientID", client.ClientID,
			"grantClientID", grant.ClientID,
			"grantID", grant.ID,
			"error", err,
		)
		return 0, err
	}

	removed, err := s.tokenService.RevokeGrant(ctx, grant.ID)
	if err != nil {
		return removed, fmt.Errorf("revoke grant %s: %w", grant.ID, err)
	}
	slog.Info("Revoked grant", "grantID", grant.ID, "clientID", client.ClientID, "count", removed)
	return removed, nil
}

func (s *RevokeService) recordAudit(ctx context.Context, req RevokeRequest, result *RevokeResult, err error) {
	rec := audit.TokenRevokeRecord{
		TokenTypeHint: req.TokenTypeHint,
		Count:         result.Removed,
		Success:       err == nil,
		IP:            req.IP,
		UserAgent:     req.UserAgent,
	}
	if req.Client != nil {
		rec.ClientID = req.Client.ClientID
	}
	if err != nil {
		rec.Reason = err.Error()
	}
	if auditErr := audit.RecordTokenRevoke(ctx, rec); auditErr != nil {
		slog.Error("Failed to record revoke audit event", "error", auditErr)
	}
}

func NewRevokeService(tokenService TokenService, cfg config.RevocationConfig) *RevokeService {
	if cfg.RevokeAnyTokenScope == "" {
		cfg.RevokeAnyTokenScope = params.RevokeAnyTokenScope
	}
	return &RevokeService{
		tokenService: tokenService,
		config:       cfg,
	}
}
