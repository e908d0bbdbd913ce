// Package store persists the user ledger, the pending-job cache, and the
// payment ledger behind a narrow contract. Cross-entity consistency is
// maintained by operation ordering in the worker, not by transactions here.
package store

import (
	"context"

	"photorevive/pkg/domain"
)

// Store defines persistence operations for users, pending jobs, and payments.
type Store interface {
	// users
	// UpsertUser registers or refreshes a user. An existing row keeps its
	// FreeQuota and CreatedAt; name and locale are updated.
	UpsertUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUser(ctx context.Context, telegramID int64) (domain.User, bool, error)
	// ConsumeFreeQuota atomically flips FreeQuota from true to false and
	// reports whether this call was the one that consumed it.
	ConsumeFreeQuota(ctx context.Context, telegramID int64) (bool, error)
	SetFreeQuota(ctx context.Context, telegramID int64, available bool) error

	// pending jobs
	// SavePendingJob inserts or overwrites the entry for the job's
	// (account, message) key.
	SavePendingJob(ctx context.Context, job domain.PendingJob) error
	SetPendingInvoice(ctx context.Context, telegramID int64, messageID, invoiceMessageID int) error
	GetPendingJob(ctx context.Context, telegramID int64, messageID int) (domain.PendingJob, bool, error)
	// ListPendingJobs returns an account's entries ordered by message id.
	ListPendingJobs(ctx context.Context, telegramID int64) ([]domain.PendingJob, error)
	DeletePendingJob(ctx context.Context, telegramID int64, messageID int) error

	// payments
	// SavePayment records a completed payment. A duplicate key is a no-op so
	// replayed confirmations cannot fail or double-book.
	SavePayment(ctx context.Context, p domain.Payment) error
}
