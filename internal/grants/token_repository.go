package grants

import (
	"context"
	"time"

	"github.com/khanghh/koidc/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TokenRepository interface {
	Create(ctx context.Context, token *model.Token) error
	FindByCode(ctx context.Context, code string, types ...model.TokenType) (*model.Token, error)
	FindByGrantID(ctx context.Context, grantID string) ([]*model.Token, error)
	FindByClientID(ctx context.Context, clientID string, types ...model.TokenType) ([]*model.Token, error)
	DeleteByGrantID(ctx context.Context, grantID string) (int64, error)
	DeleteByClientID(ctx context.Context, clientID string, types ...model.TokenType) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

type tokenRepository struct {
	db *gorm.DB
}

func typeFilter(types []model.TokenType) []clause.Expression {
	if len(types) == 0 {
		return nil
	}
	values := make([]interface{}, len(types))
	for i, t := range types {
		values[i] = t
	}
	return []clause.Expression{clause.IN{Column: "type", Values: values}}
}

func (r *tokenRepository) Create(ctx context.Context, token *model.Token) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *tokenRepository) FindByCode(ctx context.Context, code string, types ...model.TokenType) (*model.Token, error) {
	conds := append([]clause.Expression{clause.Eq{Column: "code", Value: code}}, typeFilter(types)...)
	var token model.Token
	if err := r.db.WithContext(ctx).Clauses(clause.Where{Exprs: conds}).First(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *tokenRepository) FindByGrantID(ctx context.Context, grantID string) ([]*model.Token, error) {
	var tokens []*model.Token
	err := r.db.WithContext(ctx).
		Clauses(clause.Where{Exprs: []clause.Expression{clause.Eq{Column: "grant_id", Value: grantID}}}).
		Find(&tokens).Error
	return tokens, err
}

func (r *tokenRepository) FindByClientID(ctx context.Context, clientID string, types ...model.TokenType) ([]*model.Token, error) {
	conds := append([]clause.Expression{clause.Eq{Column: "client_id", Value: clientID}}, typeFilter(types)...)
	var tokens []*model.Token
	err := r.db.WithContext(ctx).Clauses(clause.Where{Exprs: conds}).Find(&tokens).Error
	return tokens, err
}

func (r *tokenRepository) DeleteByGrantID(ctx context.Context, grantID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.Where{Exprs: []clause.Expression{clause.Eq{Column: "grant_id", Value: grantID}}}).
		Delete(&model.Token{})
	return result.RowsAffected, result.Error
}

func (r *tokenRepository) DeleteByClientID(ctx context.Context, clientID string, types ...model.TokenType) (int64, error) {
	conds := append([]clause.Expression{clause.Eq{Column: "client_id", Value: clientID}}, typeFilter(types)...)
	result := r.db.WithContext(ctx).Clauses(clause.Where{Exprs: conds}).Delete(&model.Token{})
	return result.RowsAffected, result.Error
}

func (r *tokenRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.Token{}).
		Clauses(clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: "deletable", Value: true},
			clause.Lte{Column: "expiration_date", Value: before},
		}}).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	result := r.db.WithContext(ctx).Delete(&model.Token{}, ids)
	return result.RowsAffected, result.Error
}

func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}
