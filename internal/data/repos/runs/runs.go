package runs

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	types "github.com/yungbote/newsgraph/internal/domain"
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/platform/logger"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

type ListFilter struct {
	Limit  int
	Status types.RunStatus
	Sender string
}

type RunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.ProcessingRun) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.ProcessingRun, error)
	List(ctx context.Context, tx *gorm.DB, f ListFilter) ([]*types.ProcessingRun, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &runRepo{db: db, log: baseLog.With("repo", "RunRepo")}
}

func (r *runRepo) Create(ctx context.Context, tx *gorm.DB, run *types.ProcessingRun) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(run).Error
}

// GetByID returns newsletter.ErrNewsletterNotFound for an unknown id.
func (r *runRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.ProcessingRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newsletter.ErrNewsletterNotFound
	}
	var row types.ProcessingRun
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newsletter.ErrNewsletterNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns the newest runs first.
func (r *runRepo) List(ctx context.Context, tx *gorm.DB, f ListFilter) ([]*types.ProcessingRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	q := transaction.WithContext(ctx).Model(&types.ProcessingRun{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if s := strings.TrimSpace(f.Sender); s != "" {
		q = q.Where("sender = ?", s)
	}
	results := []*types.ProcessingRun{}
	if err := q.Order("created_at DESC").Order("id").Limit(limit).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
