package app

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot/models"

	"photorevive/pkg/domain"
	"photorevive/pkg/i18n"
	"photorevive/pkg/store"
	"photorevive/pkg/tg"
)

type sentText struct {
	chatID int64
	text   string
	id     int
}

type sentMedia struct {
	chatID   int64
	data     []byte
	caption  string
	filename string
	replyTo  int
}

type answeredQuery struct {
	id string
	ok bool
}

// fakeGateway records every outbound call and hands out message ids from a
// counter so tests can follow notice and invoice lifecycles.
type fakeGateway struct {
	texts     []sentText
	photos    []sentMedia
	documents []sentMedia
	invoices  []tg.Invoice
	deleted   []int
	answered  []answeredQuery
	files     map[string][]byte

	nextID      int
	downloadErr error
	invoiceErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		files:  map[string][]byte{"photo-file": []byte("old photo")},
		nextID: 100,
	}
}

func (f *fakeGateway) allocID() int {
	f.nextID++
	return f.nextID
}

func (f *fakeGateway) SendText(_ context.Context, chatID int64, text string) (int, error) {
	id := f.allocID()
	f.texts = append(f.texts, sentText{chatID, text, id})
	return id, nil
}

func (f *fakeGateway) SendPhoto(_ context.Context, chatID int64, photo []byte, caption string, replyTo int) (int, error) {
	f.photos = append(f.photos, sentMedia{chatID: chatID, data: photo, caption: caption, replyTo: replyTo})
	return f.allocID(), nil
}

func (f *fakeGateway) SendDocument(_ context.Context, chatID int64, document []byte, filename string, replyTo int) (int, error) {
	f.documents = append(f.documents, sentMedia{chatID: chatID, data: document, filename: filename, replyTo: replyTo})
	return f.allocID(), nil
}

func (f *fakeGateway) SendInvoice(_ context.Context, chatID int64, inv tg.Invoice) (int, error) {
	if f.invoiceErr != nil {
		return 0, f.invoiceErr
	}
	f.invoices = append(f.invoices, inv)
	return f.allocID(), nil
}

func (f *fakeGateway) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeGateway) AnswerPreCheckout(_ context.Context, queryID string, ok bool) error {
	f.answered = append(f.answered, answeredQuery{queryID, ok})
	return nil
}

func (f *fakeGateway) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("unknown file")
	}
	return data, nil
}

type fakeRestorer struct {
	out     []byte
	err     error
	calls   int
	prompts []string
}

func (f *fakeRestorer) Restore(_ context.Context, _ []byte, prompt string) ([]byte, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) SaveRestored(_ context.Context, telegramID int64, messageID int, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := "restored/key"
	f.keys = append(f.keys, key)
	return key, nil
}

type fixture struct {
	app      *App
	store    *store.MemoryStore
	gateway  *fakeGateway
	restorer *fakeRestorer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ms := store.NewMemoryStore()
	gw := newFakeGateway()
	restorer := &fakeRestorer{out: []byte("restored")}
	if opts.Price == 0 {
		opts.Price = 1
	}
	return &fixture{
		app:      New(ms, gw, restorer, opts),
		store:    ms,
		gateway:  gw,
		restorer: restorer,
	}
}

func tgUser(id int64) *models.User {
	return &models.User{ID: id, FirstName: "Boris", LanguageCode: "en"}
}

func startMsg(userID int64) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   1,
		From: tgUser(userID),
		Chat: models.Chat{ID: userID},
		Text: "/start",
	}}
}

func photoMsg(userID int64, msgID int, caption string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:      msgID,
		From:    tgUser(userID),
		Chat:    models.Chat{ID: userID},
		Caption: caption,
		Photo: []models.PhotoSize{
			{FileID: "thumb"},
			{FileID: "photo-file"},
		},
	}}
}

func docMsg(userID int64, msgID int, mime string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   msgID,
		From: tgUser(userID),
		Chat: models.Chat{ID: userID},
		Document: &models.Document{
			FileID:   "photo-file",
			MimeType: mime,
			FileName: "scan.png",
		},
	}}
}

func paymentMsg(userID int64, msgID int, payload string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   msgID,
		From: tgUser(userID),
		Chat: models.Chat{ID: userID},
		SuccessfulPayment: &models.SuccessfulPayment{
			Currency:       "XTR",
			TotalAmount:    1,
			InvoicePayload: payload,
		},
	}}
}

func TestStartRegistersAndGreets(t *testing.T) {
	f := newFixture(t, Options{})

	if err := f.app.Dispatch(context.Background(), startMsg(10)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	user, ok, _ := f.store.GetUser(context.Background(), 10)
	if !ok || !user.FreeQuota {
		t.Fatalf("user = %+v ok=%v, want registered with quota", user, ok)
	}
	if len(f.gateway.texts) != 1 || f.gateway.texts[0].text != i18n.Get("en").Start {
		t.Fatalf("texts = %+v, want greeting", f.gateway.texts)
	}
}

func TestFreeUploadRestoresImmediately(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if err := f.app.Dispatch(ctx, photoMsg(11, 5, "")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if f.restorer.calls != 1 {
		t.Fatalf("restorer calls = %d, want 1", f.restorer.calls)
	}
	if len(f.gateway.invoices) != 0 {
		t.Fatalf("free path issued an invoice")
	}
	if len(f.gateway.photos) != 1 {
		t.Fatalf("photos = %d, want 1", len(f.gateway.photos))
	}
	got := f.gateway.photos[0]
	if string(got.data) != "restored" || got.replyTo != 5 {
		t.Fatalf("delivered photo = %+v", got)
	}

	user, _, _ := f.store.GetUser(ctx, 11)
	if user.FreeQuota {
		t.Fatalf("quota not consumed")
	}
	// progress notice sent and later removed
	if len(f.gateway.texts) != 1 || f.gateway.texts[0].text != i18n.Get("en").Processing {
		t.Fatalf("texts = %+v", f.gateway.texts)
	}
	if len(f.gateway.deleted) != 1 {
		t.Fatalf("progress notice not deleted: %+v", f.gateway.deleted)
	}
}

func TestUploadCaptionOverridesPrompt(t *testing.T) {
	f := newFixture(t, Options{})

	if err := f.app.Dispatch(context.Background(), photoMsg(12, 6, "make it sepia")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.restorer.prompts) != 1 || f.restorer.prompts[0] != "make it sepia" {
		t.Fatalf("prompts = %+v", f.restorer.prompts)
	}
}

func TestSecondUploadRequiresPayment(t *testing.T) {
	f := newFixture(t, Options{Price: 3})
	ctx := context.Background()

	if err := f.app.Dispatch(ctx, photoMsg(13, 7, "")); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if err := f.app.Dispatch(ctx, photoMsg(13, 8, "")); err != nil {
		t.Fatalf("second upload: %v", err)
	}

	if f.restorer.calls != 1 {
		t.Fatalf("restorer calls = %d, want 1 (second upload must not restore)", f.restorer.calls)
	}
	if len(f.gateway.invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(f.gateway.invoices))
	}
	inv := f.gateway.invoices[0]
	if inv.Amount != 3 || inv.ReplyTo != 8 {
		t.Fatalf("invoice = %+v", inv)
	}
	payload, err := domain.ParseInvoicePayload(inv.Payload)
	if err != nil {
		t.Fatalf("parse payload %q: %v", inv.Payload, err)
	}
	if payload.MessageID != 8 || payload.Kind != domain.MediaPhoto || payload.Amount != 3 {
		t.Fatalf("payload = %+v", payload)
	}

	job, ok, _ := f.store.GetPendingJob(ctx, 13, 8)
	if !ok || job.FileID != "photo-file" || job.InvoiceMessageID == 0 {
		t.Fatalf("pending job = %+v ok=%v", job, ok)
	}
}

func TestFreeRestorationFailureRefundsQuota(t *testing.T) {
	f := newFixture(t, Options{})
	f.restorer.err = errors.New("model overloaded")
	ctx := context.Background()

	if err := f.app.Dispatch(ctx, photoMsg(14, 9, "")); err == nil {
		t.Fatalf("expected error from failed restoration")
	}

	user, _, _ := f.store.GetUser(ctx, 14)
	if !user.FreeQuota {
		t.Fatalf("quota not refunded after failure")
	}
	var sawError bool
	for _, msg := range f.gateway.texts {
		if msg.text == i18n.Get("en").GenerationError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("error notice not sent: %+v", f.gateway.texts)
	}
}

// textID returns the message id the fake gateway handed out for a sent text.
func textID(t *testing.T, gw *fakeGateway, text string) int {
	t.Helper()
	for _, msg := range gw.texts {
		if msg.text == text {
			return msg.id
		}
	}
	t.Fatalf("text %q was never sent: %+v", text, gw.texts)
	return 0
}

func wasDeleted(gw *fakeGateway, id int) bool {
	for _, d := range gw.deleted {
		if d == id {
			return true
		}
	}
	return false
}

func TestFreeFailureRemovesProcessingNotice(t *testing.T) {
	f := newFixture(t, Options{})
	f.restorer.err = errors.New("model overloaded")

	if err := f.app.Dispatch(context.Background(), photoMsg(30, 16, "")); err == nil {
		t.Fatalf("expected error from failed restoration")
	}

	noticeID := textID(t, f.gateway, i18n.Get("en").Processing)
	if !wasDeleted(f.gateway, noticeID) {
		t.Fatalf("processing notice %d not deleted on failure: deleted=%v", noticeID, f.gateway.deleted)
	}
}

func TestPaidFailureRemovesPaymentNotice(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	parkJob(t, f, 31, 17)
	f.restorer.err = errors.New("model down")

	payload := domain.InvoicePayload{Amount: 1, MessageID: 17, Kind: domain.MediaPhoto}
	if err := f.app.Dispatch(ctx, paymentMsg(31, 99, payload.Encode())); err == nil {
		t.Fatalf("expected error from failed paid restoration")
	}

	noticeID := textID(t, f.gateway, i18n.Get("en").PaymentAccepted)
	if !wasDeleted(f.gateway, noticeID) {
		t.Fatalf("payment notice %d not deleted on failure: deleted=%v", noticeID, f.gateway.deleted)
	}
}

func TestUnsupportedDocumentGetsNotice(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if err := f.app.Dispatch(ctx, docMsg(15, 10, "application/pdf")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.restorer.calls != 0 {
		t.Fatalf("restored an unsupported document")
	}
	if len(f.gateway.texts) != 1 || f.gateway.texts[0].text != i18n.Get("en").NotAnImage {
		t.Fatalf("texts = %+v", f.gateway.texts)
	}
}

func TestImageDocumentDeliveredAsDocument(t *testing.T) {
	f := newFixture(t, Options{})

	if err := f.app.Dispatch(context.Background(), docMsg(16, 11, "image/png")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.gateway.documents) != 1 {
		t.Fatalf("documents = %d, want 1", len(f.gateway.documents))
	}
	if f.gateway.documents[0].filename != "restored.png" {
		t.Fatalf("filename = %q", f.gateway.documents[0].filename)
	}
	if len(f.gateway.photos) != 0 {
		t.Fatalf("document upload delivered as photo")
	}
}

func TestPreCheckoutApproved(t *testing.T) {
	f := newFixture(t, Options{})

	update := &models.Update{PreCheckoutQuery: &models.PreCheckoutQuery{ID: "pcq-1"}}
	if err := f.app.Dispatch(context.Background(), update); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.gateway.answered) != 1 || !f.gateway.answered[0].ok || f.gateway.answered[0].id != "pcq-1" {
		t.Fatalf("answered = %+v", f.gateway.answered)
	}
}

// parkJob drives a user through quota exhaustion and a second upload so a
// pending job with an invoice exists.
func parkJob(t *testing.T, f *fixture, userID int64, msgID int) domain.PendingJob {
	t.Helper()
	ctx := context.Background()
	if err := f.app.Dispatch(ctx, photoMsg(userID, 1, "")); err != nil {
		t.Fatalf("exhaust quota: %v", err)
	}
	if err := f.app.Dispatch(ctx, photoMsg(userID, msgID, "")); err != nil {
		t.Fatalf("park upload: %v", err)
	}
	job, ok, _ := f.store.GetPendingJob(ctx, userID, msgID)
	if !ok {
		t.Fatalf("no pending job parked")
	}
	return job
}

func TestPaymentRunsParkedJob(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	job := parkJob(t, f, 17, 12)

	payload := domain.InvoicePayload{Amount: 1, MessageID: 12, Kind: domain.MediaPhoto}
	if err := f.app.Dispatch(ctx, paymentMsg(17, 99, payload.Encode())); err != nil {
		t.Fatalf("dispatch payment: %v", err)
	}

	if f.restorer.calls != 2 {
		t.Fatalf("restorer calls = %d, want 2", f.restorer.calls)
	}
	if len(f.gateway.photos) != 2 {
		t.Fatalf("photos = %d, want 2", len(f.gateway.photos))
	}
	if got := f.gateway.photos[1].replyTo; got != 12 {
		t.Fatalf("paid result replies to %d, want 12", got)
	}

	payments := f.store.Payments()
	if len(payments) != 1 || payments[0].MessageID != 12 || payments[0].Type != domain.PaymentRestoration {
		t.Fatalf("payments = %+v", payments)
	}
	if _, ok, _ := f.store.GetPendingJob(ctx, 17, 12); ok {
		t.Fatalf("pending job survived settlement")
	}

	var invoiceDeleted bool
	for _, id := range f.gateway.deleted {
		if id == job.InvoiceMessageID {
			invoiceDeleted = true
		}
	}
	if !invoiceDeleted {
		t.Fatalf("invoice message %d not deleted: %+v", job.InvoiceMessageID, f.gateway.deleted)
	}
}

func TestDuplicatePaymentIsAcknowledgedWithoutWork(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	payload := domain.InvoicePayload{Amount: 1, MessageID: 50, Kind: domain.MediaPhoto}
	if err := f.app.Dispatch(ctx, paymentMsg(18, 99, payload.Encode())); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.restorer.calls != 0 {
		t.Fatalf("duplicate payment triggered a restoration")
	}
	if len(f.store.Payments()) != 1 {
		t.Fatalf("payment not recorded")
	}
}

func TestMalformedPayloadIsRejected(t *testing.T) {
	f := newFixture(t, Options{})

	err := f.app.Dispatch(context.Background(), paymentMsg(19, 99, "payment|x|y"))
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
	if len(f.store.Payments()) != 0 {
		t.Fatalf("malformed payment recorded")
	}
}

func TestPaidRestorationFailureGrantsQuota(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	parkJob(t, f, 20, 13)
	f.restorer.err = errors.New("model down")

	payload := domain.InvoicePayload{Amount: 1, MessageID: 13, Kind: domain.MediaPhoto}
	if err := f.app.Dispatch(ctx, paymentMsg(20, 99, payload.Encode())); err == nil {
		t.Fatalf("expected error from failed paid restoration")
	}

	user, _, _ := f.store.GetUser(ctx, 20)
	if !user.FreeQuota {
		t.Fatalf("compensation quota not granted")
	}
	if _, ok, _ := f.store.GetPendingJob(ctx, 20, 13); ok {
		t.Fatalf("pending job not cleaned up after failure")
	}
}

func TestStartMatchingIsExact(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	stray := &models.Update{Message: &models.Message{
		ID:   40,
		From: tgUser(25),
		Chat: models.Chat{ID: 25},
		Text: "/startover",
	}}
	if err := f.app.Dispatch(ctx, stray); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.gateway.texts) != 0 {
		t.Fatalf("/startover was greeted: %+v", f.gateway.texts)
	}
	if len(f.gateway.deleted) != 1 || f.gateway.deleted[0] != 40 {
		t.Fatalf("/startover not treated as stray: deleted=%v", f.gateway.deleted)
	}

	deepLink := &models.Update{Message: &models.Message{
		ID:   41,
		From: tgUser(25),
		Chat: models.Chat{ID: 25},
		Text: "/start ref123",
	}}
	if err := f.app.Dispatch(ctx, deepLink); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.gateway.texts) != 1 || f.gateway.texts[0].text != i18n.Get("en").Start {
		t.Fatalf("deep-link start not greeted: %+v", f.gateway.texts)
	}
}

func TestStrayTextIsDeleted(t *testing.T) {
	f := newFixture(t, Options{})

	update := &models.Update{Message: &models.Message{
		ID:   33,
		From: tgUser(21),
		Chat: models.Chat{ID: 21},
		Text: "hello there",
	}}
	if err := f.app.Dispatch(context.Background(), update); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.gateway.deleted) != 1 || f.gateway.deleted[0] != 33 {
		t.Fatalf("deleted = %+v, want [33]", f.gateway.deleted)
	}
}

func TestArchiveFailureDoesNotFailJob(t *testing.T) {
	f := newFixture(t, Options{Archive: &fakeArchive{err: errors.New("bucket gone")}})

	if err := f.app.Dispatch(context.Background(), photoMsg(22, 14, "")); err != nil {
		t.Fatalf("archive failure leaked into the job: %v", err)
	}
	if len(f.gateway.photos) != 1 {
		t.Fatalf("result not delivered")
	}
}

func TestArchiveStoresRestoredImage(t *testing.T) {
	arch := &fakeArchive{}
	f := newFixture(t, Options{Archive: arch})

	if err := f.app.Dispatch(context.Background(), photoMsg(23, 15, "")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(arch.keys) != 1 {
		t.Fatalf("archive keys = %+v, want 1", arch.keys)
	}
}

func TestHandleUpdateDecodesRawBody(t *testing.T) {
	f := newFixture(t, Options{})

	body := `{"update_id":1,"message":{"message_id":1,"text":"/start","from":{"id":24,"first_name":"Boris","language_code":"ru"},"chat":{"id":24}}}`
	if err := f.app.HandleUpdate(context.Background(), body); err != nil {
		t.Fatalf("handle update: %v", err)
	}
	if len(f.gateway.texts) != 1 || f.gateway.texts[0].text != i18n.Get("ru").Start {
		t.Fatalf("texts = %+v, want russian greeting", f.gateway.texts)
	}

	if err := f.app.HandleUpdate(context.Background(), "not-json"); err == nil {
		t.Fatalf("expected error for malformed body")
	}
	if err := f.app.HandleUpdate(context.Background(), `{"update_id":2}`); err != nil {
		t.Fatalf("empty update should be ignored, got %v", err)
	}
}

func TestIgnoresUpdatesWithoutSender(t *testing.T) {
	f := newFixture(t, Options{})
	update := &models.Update{Message: &models.Message{ID: 1, Chat: models.Chat{ID: 1}}}
	if err := f.app.Dispatch(context.Background(), update); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.restorer.calls != 0 || len(f.gateway.texts) != 0 {
		t.Fatalf("acted on a senderless update")
	}
}
