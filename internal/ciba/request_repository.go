package ciba

import (
	"context"
	"time"

	"github.com/khanghh/koidc/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RequestRepository interface {
	Create(ctx context.Context, req *model.CibaRequest) error
	First(ctx context.Context, authReqID string) (*model.CibaRequest, error)
	UpdateStatus(ctx context.Context, authReqID string, status Status) error
	Delete(ctx context.Context, authReqID string) (int64, error)
	FindExpiredByStatus(ctx context.Context, status Status, before time.Time, limit int) ([]*model.CibaRequest, error)
}

type requestRepository struct {
	db *gorm.DB
}

func byAuthReqID(authReqID string) clause.Where {
	return clause.Where{Exprs: []clause.Expression{clause.Eq{Column: "auth_req_id", Value: authReqID}}}
}

func (r *requestRepository) Create(ctx context.Context, req *model.CibaRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *requestRepository) First(ctx context.Context, authReqID string) (*model.CibaRequest, error) {
	var req model.CibaRequest
	if err := r.db.WithContext(ctx).Clauses(byAuthReqID(authReqID)).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateStatus writes the status column only.
func (r *requestRepository) UpdateStatus(ctx context.Context, authReqID string, status Status) error {
	return r.db.WithContext(ctx).Model(&model.CibaRequest{}).
		Clauses(byAuthReqID(authReqID)).
		Update("status", string(status)).Error
}

func (r *requestRepository) Delete(ctx context.Context, authReqID string) (int64, error) {
	result := r.db.WithContext(ctx).Clauses(byAuthReqID(authReqID)).Delete(&model.CibaRequest{})
	return result.RowsAffected, result.Error
}

func (r *requestRepository) FindExpiredByStatus(ctx context.Context, status Status, before time.Time, limit int) ([]*model.CibaRequest, error) {
	var requests []*model.CibaRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: "status", Value: string(status)},
			clause.Lte{Column: "expiration_date", Value: before},
		}}).
		Order("expiration_date").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}
