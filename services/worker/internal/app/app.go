// Package app implements the worker's update dispatcher: the state machine
// that turns drained Telegram updates into restorations, invoices, and
// payment settlements.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"photorevive/pkg/ai"
	"photorevive/pkg/domain"
	"photorevive/pkg/i18n"
	"photorevive/pkg/storage"
	"photorevive/pkg/store"
	"photorevive/pkg/tg"
)

// App wires the pipeline dependencies together.
type App struct {
	store          store.Store
	gateway        tg.Gateway
	restorer       ai.Restorer
	archive        storage.Archive
	price          int
	restoreTimeout time.Duration
}

// Options carries the tunables for New.
type Options struct {
	Price          int
	RestoreTimeout time.Duration
	Archive        storage.Archive
}

// New builds the dispatcher. Archive may be nil to disable archival.
func New(s store.Store, gateway tg.Gateway, restorer ai.Restorer, opts Options) *App {
	price := opts.Price
	if price <= 0 {
		price = 1
	}
	timeout := opts.RestoreTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &App{
		store:          s,
		gateway:        gateway,
		restorer:       restorer,
		archive:        opts.Archive,
		price:          price,
		restoreTimeout: timeout,
	}
}

// HandleUpdate decodes one raw update body and dispatches it. It is the
// queue handler; a returned error means the body is logged and dropped.
func (a *App) HandleUpdate(ctx context.Context, body string) error {
	var update models.Update
	if err := json.Unmarshal([]byte(body), &update); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	return a.Dispatch(ctx, &update)
}

// Dispatch routes one update to its handler. Updates with nothing actionable
// are ignored.
func (a *App) Dispatch(ctx context.Context, update *models.Update) error {
	if update.PreCheckoutQuery != nil {
		return a.handlePreCheckout(ctx, update.PreCheckoutQuery)
	}
	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	texts := i18n.Get(msg.From.LanguageCode)

	switch {
	case msg.SuccessfulPayment != nil:
		return a.handlePayment(ctx, msg, texts)
	case msg.Text == "/start" || strings.HasPrefix(msg.Text, "/start "):
		return a.handleStart(ctx, msg, texts)
	case len(msg.Photo) > 0 || msg.Document != nil:
		return a.handleMedia(ctx, msg, texts)
	default:
		// anything else clutters the conversation; drop it quietly
		if err := a.gateway.DeleteMessage(ctx, msg.Chat.ID, msg.ID); err != nil {
			slog.Debug("delete stray message", "err", err)
		}
		return nil
	}
}

// handleStart registers the user and greets them. Re-registration refreshes
// the name and language but never restores an exhausted free quota.
func (a *App) handleStart(ctx context.Context, msg *models.Message, texts i18n.Texts) error {
	if _, err := a.store.UpsertUser(ctx, userFromMessage(msg)); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	if _, err := a.gateway.SendText(ctx, msg.Chat.ID, texts.Start); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}
	return nil
}

// handleMedia is the upload entry point. A user with free quota gets the
// restoration immediately; everyone else gets an invoice, with the upload
// parked as a pending job until payment confirms.
func (a *App) handleMedia(ctx context.Context, msg *models.Message, texts i18n.Texts) error {
	fileID, kind, ok := extractMedia(msg)
	if !ok {
		if _, err := a.gateway.SendText(ctx, msg.Chat.ID, texts.NotAnImage); err != nil {
			return fmt.Errorf("send unsupported-media notice: %w", err)
		}
		return nil
	}

	// the upload may be the user's first contact; make sure the row exists
	if _, err := a.store.UpsertUser(ctx, userFromMessage(msg)); err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	consumed, err := a.store.ConsumeFreeQuota(ctx, msg.From.ID)
	if err != nil {
		return fmt.Errorf("consume quota: %w", err)
	}

	if consumed {
		if err := a.runRestoration(ctx, msg.Chat.ID, msg.From.ID, msg.ID, fileID, kind, msg.Caption, texts, texts.Processing); err != nil {
			// the quota was spent on a job that produced nothing; hand it back
			if qerr := a.store.SetFreeQuota(ctx, msg.From.ID, true); qerr != nil {
				slog.Error("refund free quota", "telegram_id", msg.From.ID, "err", qerr)
			}
			a.notify(ctx, msg.Chat.ID, texts.GenerationError)
			return err
		}
		return nil
	}

	return a.issueInvoice(ctx, msg, fileID, kind, texts)
}

// issueInvoice parks the upload and sends a Telegram Stars invoice for it.
func (a *App) issueInvoice(ctx context.Context, msg *models.Message, fileID string, kind domain.MediaKind, texts i18n.Texts) error {
	job := domain.PendingJob{
		TelegramID: msg.From.ID,
		MessageID:  msg.ID,
		FileID:     fileID,
		MediaKind:  kind,
	}
	if err := a.store.SavePendingJob(ctx, job); err != nil {
		return fmt.Errorf("save pending job: %w", err)
	}

	payload := domain.InvoicePayload{Amount: a.price, MessageID: msg.ID, Kind: kind}
	invoiceID, err := a.gateway.SendInvoice(ctx, msg.Chat.ID, tg.Invoice{
		Title:       texts.PaymentTitle,
		Description: texts.PaymentDescription,
		Payload:     payload.Encode(),
		PriceLabel:  texts.PaymentLabel,
		PayButton:   texts.PayButtonLabel(a.price),
		Amount:      a.price,
		ReplyTo:     msg.ID,
	})
	if err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	if err := a.store.SetPendingInvoice(ctx, msg.From.ID, msg.ID, invoiceID); err != nil {
		slog.Error("record invoice message", "telegram_id", msg.From.ID, "message_id", msg.ID, "err", err)
	}
	return nil
}

// handlePreCheckout approves the pre-checkout handshake. Validation already
// happened when the invoice was issued; refusing here would only strand the
// user mid-payment.
func (a *App) handlePreCheckout(ctx context.Context, query *models.PreCheckoutQuery) error {
	if err := a.gateway.AnswerPreCheckout(ctx, query.ID, true); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// handlePayment settles a confirmed payment: record it, look up the parked
// upload, and run the restoration. A payment whose pending job is gone is
// treated as a redelivered duplicate and acknowledged without work. A failed
// restoration compensates the user with a free quota credit.
func (a *App) handlePayment(ctx context.Context, msg *models.Message, texts i18n.Texts) error {
	payload, err := domain.ParseInvoicePayload(msg.SuccessfulPayment.InvoicePayload)
	if err != nil {
		return fmt.Errorf("payment for message %d: %w", msg.ID, err)
	}

	payment := domain.Payment{
		TelegramID: msg.From.ID,
		MessageID:  payload.MessageID,
		Amount:     payload.Amount,
		Type:       domain.PaymentRestoration,
	}
	if err := a.store.SavePayment(ctx, payment); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}

	job, ok, err := a.store.GetPendingJob(ctx, msg.From.ID, payload.MessageID)
	if err != nil {
		return fmt.Errorf("load pending job: %w", err)
	}
	if !ok {
		slog.Warn("payment without pending job, assuming duplicate delivery",
			"telegram_id", msg.From.ID, "message_id", payload.MessageID)
		return nil
	}

	if job.InvoiceMessageID != 0 {
		if err := a.gateway.DeleteMessage(ctx, msg.Chat.ID, job.InvoiceMessageID); err != nil {
			slog.Debug("delete invoice message", "err", err)
		}
	}

	restoreErr := a.runRestoration(ctx, msg.Chat.ID, msg.From.ID, job.MessageID, job.FileID, job.MediaKind, "", texts, texts.PaymentAccepted)
	if restoreErr != nil {
		// the user paid and got nothing; credit a free restoration
		if qerr := a.store.SetFreeQuota(ctx, msg.From.ID, true); qerr != nil {
			slog.Error("grant compensation quota", "telegram_id", msg.From.ID, "err", qerr)
		}
		a.notify(ctx, msg.Chat.ID, texts.GenerationError)
	}

	if err := a.store.DeletePendingJob(ctx, msg.From.ID, job.MessageID); err != nil {
		slog.Error("delete pending job", "telegram_id", msg.From.ID, "message_id", job.MessageID, "err", err)
	}
	return restoreErr
}

// runRestoration downloads the source, calls the model under a deadline, and
// delivers the result the same way it arrived. The progress notice is removed
// whether the job succeeds or fails.
func (a *App) runRestoration(ctx context.Context, chatID, telegramID int64, messageID int, fileID string, kind domain.MediaKind, prompt string, texts i18n.Texts, notice string) error {
	noticeID, err := a.gateway.SendText(ctx, chatID, notice)
	if err != nil {
		slog.Warn("send progress notice", "err", err)
	}
	if noticeID != 0 {
		defer func() {
			if err := a.gateway.DeleteMessage(ctx, chatID, noticeID); err != nil {
				slog.Debug("delete progress notice", "err", err)
			}
		}()
	}

	source, err := a.gateway.DownloadFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	restoreCtx, cancel := context.WithTimeout(ctx, a.restoreTimeout)
	defer cancel()
	restored, err := a.restorer.Restore(restoreCtx, source, prompt)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	switch kind {
	case domain.MediaDocument:
		_, err = a.gateway.SendDocument(ctx, chatID, restored, "restored.png", messageID)
	default:
		_, err = a.gateway.SendPhoto(ctx, chatID, restored, texts.PhotoReady, messageID)
	}
	if err != nil {
		return fmt.Errorf("deliver result: %w", err)
	}

	if a.archive != nil {
		if key, aerr := a.archive.SaveRestored(ctx, telegramID, messageID, restored); aerr != nil {
			slog.Warn("archive restored image", "telegram_id", telegramID, "err", aerr)
		} else {
			slog.Debug("archived restored image", "key", key)
		}
	}
	return nil
}

// notify sends a best-effort text; failures are logged, not returned.
func (a *App) notify(ctx context.Context, chatID int64, text string) {
	if _, err := a.gateway.SendText(ctx, chatID, text); err != nil {
		slog.Warn("send notice", "err", err)
	}
}

// extractMedia pulls the restorable image out of a message: the largest
// rendition of a photo upload, or a document whose mime type is a supported
// image format.
func extractMedia(msg *models.Message) (string, domain.MediaKind, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, domain.MediaPhoto, true
	}
	if doc := msg.Document; doc != nil {
		switch doc.MimeType {
		case "image/jpeg", "image/png":
			return doc.FileID, domain.MediaDocument, true
		}
	}
	return "", "", false
}

func userFromMessage(msg *models.Message) domain.User {
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	return domain.User{
		TelegramID:   msg.From.ID,
		FullName:     name,
		LanguageCode: msg.From.LanguageCode,
		FreeQuota:    true,
	}
}
