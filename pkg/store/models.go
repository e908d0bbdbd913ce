package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	TelegramID   int64 `gorm:"primaryKey;autoIncrement:false"`
	FullName     string
	LanguageCode string
	FreeQuota    bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type PendingJobModel struct {
	TelegramID       int64  `gorm:"primaryKey;autoIncrement:false"`
	MessageID        int    `gorm:"primaryKey;autoIncrement:false"`
	FileID           string `gorm:"not null"`
	MediaKind        string `gorm:"not null"`
	InvoiceMessageID int    `gorm:"not null"`
}

func (PendingJobModel) TableName() string { return "pending_jobs" }

type PaymentModel struct {
	TelegramID int64     `gorm:"primaryKey;autoIncrement:false"`
	MessageID  int       `gorm:"primaryKey;autoIncrement:false"`
	Amount     int       `gorm:"not null"`
	JobType    string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (PaymentModel) TableName() string { return "payments" }
