package history

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MaxListLimit caps how many exchanges ListRecent returns.
const MaxListLimit = 100

// Repository defines persistence operations for exchanges.
type Repository interface {
	Record(ctx context.Context, exchange *Exchange) error
	ListRecent(ctx context.Context, limit int) ([]Exchange, error)
	Count(ctx context.Context) (int64, error)
}

// GormRepository persists exchanges using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

var _ Repository = (*GormRepository)(nil)

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger}, nil
}

// Record stores the exchange, assigning an identifier when it has none.
func (r *GormRepository) Record(ctx context.Context, exchange *Exchange) error {
	if exchange == nil {
		return eris.New("exchange is nil")
	}

	switch exchange.Kind {
	case KindGenerate, KindRetrieve:
	default:
		return eris.Errorf("unknown exchange kind: %q", exchange.Kind)
	}

	if strings.TrimSpace(exchange.ID) == "" {
		exchange.ID = uuid.NewString()
	}

	if err := r.db.WithContext(ctx).Create(exchange).Error; err != nil {
		r.logError(logrus.Fields{"exchange_id": exchange.ID, "kind": exchange.Kind}, err, "recording exchange")
		return eris.Wrapf(err, "recording exchange: %s", exchange.ID)
	}

	return nil
}

// ListRecent returns up to limit exchanges, newest first.
func (r *GormRepository) ListRecent(ctx context.Context, limit int) ([]Exchange, error) {
	if limit <= 0 {
		return nil, eris.New("limit must be positive")
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var exchanges []Exchange
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&exchanges).Error
	if err != nil {
		r.logError(logrus.Fields{"limit": limit}, err, "listing exchanges")
		return nil, eris.Wrap(err, "listing exchanges")
	}

	return exchanges, nil
}

// Count returns the number of recorded exchanges.
func (r *GormRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Exchange{}).Count(&count).Error; err != nil {
		r.logError(nil, err, "counting exchanges")
		return 0, eris.Wrap(err, "counting exchanges")
	}
	return count, nil
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
