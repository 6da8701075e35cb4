package history

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate applies the exchange schema using Gorm's AutoMigrate and logs progress.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "history.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Debug("applying exchange schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&Exchange{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("exchange schema migration failed")
		}
		return eris.Wrap(err, "auto migrating exchange schema")
	}

	if logger != nil {
		logger.WithFields(logFields).Info("exchange schema ready")
	}

	return nil
}
