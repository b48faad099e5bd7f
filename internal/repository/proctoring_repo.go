package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/learnify/assess-api/internal/models"
)

// ProctoringRepository persists violation accumulators and the
// append-only audit log of proctoring events.
type ProctoringRepository interface {
	AppendLog(ctx context.Context, entry *models.ProctoringLogEntry) error
	ListLogs(ctx context.Context, submissionID uint) ([]models.ProctoringLogEntry, error)
	// IncrementViolation bumps the student's accumulator by one,
	// creating the row when absent, and returns the updated record.
	IncrementViolation(ctx context.Context, studentID uint) (models.ProctoringViolation, error)
	GetViolation(ctx context.Context, studentID uint) (models.ProctoringViolation, error)
	SetBlockedUntil(ctx context.Context, studentID uint, until time.Time) error
}

type proctoringRepository struct {
	db *gorm.DB
}

// NewProctoringRepository instantiates the repository.
func NewProctoringRepository(db *gorm.DB) ProctoringRepository {
	return &proctoringRepository{db: db}
}

func (r *proctoringRepository) AppendLog(ctx context.Context, entry *models.ProctoringLogEntry) error {
	if entry == nil {
		return errors.New("log entry must not be nil")
	}

	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *proctoringRepository) ListLogs(ctx context.Context, submissionID uint) ([]models.ProctoringLogEntry, error) {
	var entries []models.ProctoringLogEntry
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *proctoringRepository) IncrementViolation(ctx context.Context, studentID uint) (models.ProctoringViolation, error) {
	var violation models.ProctoringViolation

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(models.ProctoringViolation{StudentID: studentID}).
			FirstOrCreate(&violation).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.ProctoringViolation{}).
			Where("id = ?", violation.ID).
			UpdateColumn("violation_count", gorm.Expr("violation_count + 1")).Error; err != nil {
			return err
		}

		return tx.First(&violation, violation.ID).Error
	})
	if err != nil {
		return models.ProctoringViolation{}, err
	}

	return violation, nil
}

func (r *proctoringRepository) GetViolation(ctx context.Context, studentID uint) (models.ProctoringViolation, error) {
	var violation models.ProctoringViolation
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		First(&violation).Error
	if err != nil {
		return models.ProctoringViolation{}, err
	}

	return violation, nil
}

func (r *proctoringRepository) SetBlockedUntil(ctx context.Context, studentID uint, until time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ProctoringViolation{}).
		Where("student_id = ?", studentID).
		Update("blocked_until", until).Error
}
