package grants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khanghh/koidc/internal/common"
	"github.com/khanghh/koidc/model"
	"gorm.io/gorm"
)

type TokenService struct {
	tokenRepo TokenRepository
	now       func() time.Time
}

// Save persists an issued token under the fingerprint of its bearer value.
func (s *TokenService) Save(ctx context.Context, token *model.Token, value string) error {
	if strings.TrimSpace(value) == "" {
		return ErrTokenEmpty
	}
	if token.ClientID == "" {
		return ErrClientEmpty
	}
	if token.GrantID == "" {
		token.GrantID = NewGrantID()
	}
	if token.CreationDate.IsZero() {
		token.CreationDate = s.now()
	}
	if token.TTL == 0 && !token.ExpirationDate.IsZero() {
		token.TTL = int64(token.ExpirationDate.Sub(token.CreationDate).Seconds())
	}
	token.Code = common.FingerprintToken(value)
	if err := s.tokenRepo.Create(ctx, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *TokenService) Find(ctx context.Context, value string) (*model.Token, error) {
	token, err := s.tokenRepo.FindByCode(ctx, common.FingerprintToken(value))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	return token, err
}

func (s *TokenService) resolve(ctx context.Context, value string, types ...model.TokenType) (*Grant, error) {
	token, err := s.tokenRepo.FindByCode(ctx, common.FingerprintToken(value), types...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, err
	}
	return GrantOf(token), nil
}

// ByAccessToken resolves the grant of an access or transaction token.
func (s *TokenService) ByAccessToken(ctx context.Context, value string) (*Grant, error) {
	return s.resolve(ctx, value, model.TokenTypeAccessToken, model.TokenTypeTxToken)
}

// ByCode resolves the grant of a token of any type.
func (s *TokenService) ByCode(ctx context.Context, value string) (*Grant, error) {
	return s.resolve(ctx, value)
}

func (s *TokenService) GetGrantTokens(ctx context.Context, grantID string) ([]*model.Token, error) {
	return s.tokenRepo.FindByGrantID(ctx, grantID)
}

// RevokeGrant removes every token carrying grantID in a single statement.
func (s *TokenService) RevokeGrant(ctx context.Context, grantID string) (int64, error) {
	return s.tokenRepo.DeleteByGrantID(ctx, grantID)
}

func (s *TokenService) RevokeClientTokens(ctx context.Context, clientID string, types ...model.TokenType) (int64, error) {
	return s.tokenRepo.DeleteByClientID(ctx, clientID, types...)
}

func (s *TokenService) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	return s.tokenRepo.DeleteExpired(ctx, s.now(), limit)
}

func NewTokenService(tokenRepo TokenRepository) *TokenService {
	return &TokenService{
		tokenRepo: tokenRepo,
		now:       time.Now,
	}
}
