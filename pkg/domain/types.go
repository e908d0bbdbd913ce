// Package domain holds the core types shared by the relay and the worker.
package domain

import "time"

// MediaKind distinguishes how an image arrived and how its restored
// counterpart must be delivered back.
type MediaKind string

const (
	// MediaPhoto is a compressed Telegram photo upload.
	MediaPhoto MediaKind = "image"
	// MediaDocument is an image sent as a file attachment.
	MediaDocument MediaKind = "file_image"
)

// Valid reports whether the kind is one of the known media kinds.
func (k MediaKind) Valid() bool {
	return k == MediaPhoto || k == MediaDocument
}

// User is the per-account ledger record. FreeQuota starts true and flips to
// false once the single free restoration is consumed; it never auto-resets.
type User struct {
	TelegramID   int64
	FullName     string
	LanguageCode string
	FreeQuota    bool
	CreatedAt    time.Time
}

// PendingJob links an uploaded image to the invoice issued for it, keyed by
// (account, originating message). InvoiceMessageID is zero until the invoice
// send completes.
type PendingJob struct {
	TelegramID       int64
	MessageID        int
	FileID           string
	MediaKind        MediaKind
	InvoiceMessageID int
}

// PaymentType tags what a payment bought.
type PaymentType string

// PaymentRestoration is the only job type sold today.
const PaymentRestoration PaymentType = "restoration"

// Payment is an append-only audit record of a completed payment, keyed by
// (account, originating message).
type Payment struct {
	TelegramID int64
	MessageID  int
	Amount     int
	Type       PaymentType
	CreatedAt  time.Time
}
