package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"photorevive/pkg/domain"
)

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres and runs auto-migrations.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an existing DB handle and runs auto-migrations.
// Migration is idempotent: existing tables are left as they are.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&UserModel{}, &PendingJobModel{}, &PaymentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// UpsertUser registers or refreshes a user, preserving FreeQuota and
// CreatedAt for existing rows.
func (s *GormStore) UpsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "language_code"}),
	}).Create(&model).Error
	if err != nil {
		return domain.User{}, err
	}
	saved, ok, err := s.GetUser(ctx, u.TelegramID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("user %d vanished after upsert", u.TelegramID)
	}
	return saved, nil
}

// GetUser returns a user by account id.
func (s *GormStore) GetUser(ctx context.Context, telegramID int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "telegram_id = ?", telegramID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ConsumeFreeQuota is a single conditional update: only one concurrent caller
// can observe rows-affected = 1.
func (s *GormStore) ConsumeFreeQuota(ctx context.Context, telegramID int64) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("telegram_id = ? AND free_quota = ?", telegramID, true).
		Update("free_quota", false)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// SetFreeQuota overwrites the quota flag. Used for the paid-failure refund.
func (s *GormStore) SetFreeQuota(ctx context.Context, telegramID int64, available bool) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("telegram_id = ?", telegramID).
		Update("free_quota", available).Error
}

// SavePendingJob inserts or overwrites the cache entry for the job's key.
func (s *GormStore) SavePendingJob(ctx context.Context, job domain.PendingJob) error {
	model := pendingJobToModel(job)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_id", "media_kind", "invoice_message_id"}),
	}).Create(&model).Error
}

// SetPendingInvoice records the invoice message issued for a cache entry.
func (s *GormStore) SetPendingInvoice(ctx context.Context, telegramID int64, messageID, invoiceMessageID int) error {
	return s.db.WithContext(ctx).Model(&PendingJobModel{}).
		Where("telegram_id = ? AND message_id = ?", telegramID, messageID).
		Update("invoice_message_id", invoiceMessageID).Error
}

// GetPendingJob looks up a cache entry by its composite key.
func (s *GormStore) GetPendingJob(ctx context.Context, telegramID int64, messageID int) (domain.PendingJob, bool, error) {
	var model PendingJobModel
	err := s.db.WithContext(ctx).
		First(&model, "telegram_id = ? AND message_id = ?", telegramID, messageID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.PendingJob{}, false, nil
		}
		return domain.PendingJob{}, false, err
	}
	return pendingJobFromModel(model), true, nil
}

// ListPendingJobs returns an account's cache entries ordered by message id.
func (s *GormStore) ListPendingJobs(ctx context.Context, telegramID int64) ([]domain.PendingJob, error) {
	var models []PendingJobModel
	err := s.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		Order("message_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.PendingJob, 0, len(models))
	for _, m := range models {
		res = append(res, pendingJobFromModel(m))
	}
	return res, nil
}

// DeletePendingJob removes a cache entry. Deleting a missing key is not an error.
func (s *GormStore) DeletePendingJob(ctx context.Context, telegramID int64, messageID int) error {
	return s.db.WithContext(ctx).
		Delete(&PendingJobModel{}, "telegram_id = ? AND message_id = ?", telegramID, messageID).Error
}

// SavePayment records a payment once; a replayed confirmation is a no-op.
func (s *GormStore) SavePayment(ctx context.Context, p domain.Payment) error {
	model := paymentToModel(p)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		TelegramID:   u.TelegramID,
		FullName:     u.FullName,
		LanguageCode: u.LanguageCode,
		FreeQuota:    u.FreeQuota,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		TelegramID:   m.TelegramID,
		FullName:     m.FullName,
		LanguageCode: m.LanguageCode,
		FreeQuota:    m.FreeQuota,
		CreatedAt:    m.CreatedAt,
	}
}

func pendingJobToModel(j domain.PendingJob) PendingJobModel {
	return PendingJobModel{
		TelegramID:       j.TelegramID,
		MessageID:        j.MessageID,
		FileID:           j.FileID,
		MediaKind:        string(j.MediaKind),
		InvoiceMessageID: j.InvoiceMessageID,
	}
}

func pendingJobFromModel(m PendingJobModel) domain.PendingJob {
	return domain.PendingJob{
		TelegramID:       m.TelegramID,
		MessageID:        m.MessageID,
		FileID:           m.FileID,
		MediaKind:        domain.MediaKind(m.MediaKind),
		InvoiceMessageID: m.InvoiceMessageID,
	}
}

func paymentToModel(p domain.Payment) PaymentModel {
	return PaymentModel{
		TelegramID: p.TelegramID,
		MessageID:  p.MessageID,
		Amount:     p.Amount,
		JobType:    string(p.Type),
		CreatedAt:  p.CreatedAt,
	}
}
