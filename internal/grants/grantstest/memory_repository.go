// Package grantstest provides an in-memory TokenRepository for tests.
package grantstest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/khanghh/koidc/internal/grants"
	"github.com/khanghh/koidc/model"
	"gorm.io/gorm"
)

var _ grants.TokenRepository = (*MemoryTokenRepository)(nil)

type MemoryTokenRepository struct {
	mu     sync.Mutex
	tokens map[uint]*model.Token
	nextID uint

	// DeleteErr, when set, is returned by every delete call.
	DeleteErr error
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: make(map[uint]*model.Token)}
}

func matchType(token *model.Token, types []model.TokenType) bool {
	return len(types) == 0 || slices.Contains(types, token.Type)
}

func (r *MemoryTokenRepository) Create(ctx context.Context, token *model.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Code == token.Code {
			return gorm.ErrDuplicatedKey
		}
	}
	r.nextID++
	token.ID = r.nextID
	copied := *token
	r.tokens[token.ID] = &copied
	return nil
}

func (r *MemoryTokenRepository) FindByCode(ctx context.Context, code string, types ...model.TokenType) (*model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Code == code && matchType(t, types) {
			copied := *t
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemoryTokenRepository) filter(match func(*model.Token) bool) []*model.Token {
	var result []*model.Token
	for _, t := range r.tokens {
		if match(t) {
			copied := *t
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *MemoryTokenRepository) remove(match func(*model.Token) bool) (int64, error) {
	if r.DeleteErr != nil {
		return 0, r.DeleteErr
	}
	var count int64
	for id, t := range r.tokens {
		if match(t) {
			delete(r.tokens, id)
			count++
		}
	}
	return count, nil
}

func (r *MemoryTokenRepository) FindByGrantID(ctx context.Context, grantID string) ([]*model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(t *model.Token) bool { return t.GrantID == grantID }), nil
}

func (r *MemoryTokenRepository) FindByClientID(ctx context.Context, clientID string, types ...model.TokenType) ([]*model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(t *model.Token) bool { return t.ClientID == clientID && matchType(t, types) }), nil
}

func (r *MemoryTokenRepository) DeleteByGrantID(ctx context.Context, grantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(func(t *model.Token) bool { return t.GrantID == grantID })
}

func (r *MemoryTokenRepository) DeleteByClientID(ctx context.Context, clientID string, types ...model.TokenType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(func(t *model.Token) bool { return t.ClientID == clientID && matchType(t, types) })
}

func (r *MemoryTokenRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expired := r.filter(func(t *model.Token) bool { return t.Deletable && !t.ExpirationDate.After(before) })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	for _, t := range expired {
		delete(r.tokens, t.ID)
	}
	return int64(len(expired)), nil
}

func (r *MemoryTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
