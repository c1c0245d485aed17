package clients

import (
	"context"

	"github.com/khanghh/koidc/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ClientRepository interface {
	First(ctx context.Context, conds ...clause.Expression) (*model.Client, error)
	Create(ctx context.Context, client *model.Client) error
	Delete(ctx context.Context, conds ...clause.Expression) (int64, error)
}

type clientRepository struct {
	db *gorm.DB
}

func (r *clientRepository) First(ctx context.Context, conds ...clause.Expression) (*model.Client, error) {
	var client model.Client
	if err := r.db.WithContext(ctx).Clauses(clause.Where{Exprs: conds}).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *clientRepository) Create(ctx context.Context, client *model.Client) error {
	return r.db.WithContext(ctx).Create(client).Error
}

func (r *clientRepository) Delete(ctx context.Context, conds ...clause.Expression) (int64, error) {
	result := r.db.WithContext(ctx).Clauses(clause.Where{Exprs: conds}).Delete(&model.Client{})
	return result.RowsAffected, result.Error
}

func NewClientRepository(db *gorm.DB) ClientRepository {
	return &clientRepository{db: db}
}
