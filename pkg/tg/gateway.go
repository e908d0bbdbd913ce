// Package tg exposes the narrow conversation surface the pipeline needs from
// Telegram: a handful of sends, deletes, and the payment handshake.
package tg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Invoice describes one Telegram Stars invoice. Amount is in XTR.
type Invoice struct {
	Title       string
	Description string
	Payload     string
	PriceLabel  string
	PayButton   string
	Amount      int
	ReplyTo     int
}

// Gateway is the conversation transport consumed by the pipeline.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, replyTo int) (int, error)
	SendDocument(ctx context.Context, chatID int64, document []byte, filename string, replyTo int) (int, error)
	SendInvoice(ctx context.Context, chatID int64, inv Invoice) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// BotGateway implements Gateway on top of go-telegram/bot.
type BotGateway struct {
	bot        *bot.Bot
	httpClient *http.Client
}

// NewBotGateway initializes the Telegram client.
func NewBotGateway(token string) (*BotGateway, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token required")
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &BotGateway{bot: b, httpClient: &http.Client{}}, nil
}

// SendText sends an HTML-formatted text message and returns its message id.
func (g *BotGateway) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	return msg.ID, nil
}

// SendPhoto uploads a photo reply to the originating message.
func (g *BotGateway) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, replyTo int) (int, error) {
	msg, err := g.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:          chatID,
		Photo:           &models.InputFileUpload{Filename: "restored.png", Data: bytes.NewReader(photo)},
		Caption:         caption,
		ReplyParameters: replyParams(replyTo),
	})
	if err != nil {
		return 0, fmt.Errorf("send photo: %w", err)
	}
	return msg.ID, nil
}

// SendDocument uploads a file reply to the originating message.
func (g *BotGateway) SendDocument(ctx context.Context, chatID int64, document []byte, filename string, replyTo int) (int, error) {
	msg, err := g.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:          chatID,
		Document:        &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(document)},
		ReplyParameters: replyParams(replyTo),
	})
	if err != nil {
		return 0, fmt.Errorf("send document: %w", err)
	}
	return msg.ID, nil
}

// SendInvoice issues a Telegram Stars invoice (currency XTR, empty provider
// token) with a single pay button.
func (g *BotGateway) SendInvoice(ctx context.Context, chatID int64, inv Invoice) (int, error) {
	msg, err := g.bot.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:      chatID,
		Title:       inv.Title,
		Description: inv.Description,
		Payload:     inv.Payload,
		Currency:    "XTR",
		Prices:      []models.LabeledPrice{{Label: inv.PriceLabel, Amount: inv.Amount}},
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: inv.PayButton, Pay: true},
			}},
		},
		ReplyParameters: replyParams(inv.ReplyTo),
	})
	if err != nil {
		return 0, fmt.Errorf("send invoice: %w", err)
	}
	return msg.ID, nil
}

// DeleteMessage removes a message from the conversation.
func (g *BotGateway) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := g.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

// AnswerPreCheckout resolves a pre-checkout query.
func (g *BotGateway) AnswerPreCheckout(ctx context.Context, queryID string, ok bool) error {
	_, err := g.bot.AnswerPreCheckoutQuery(ctx, &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
	})
	if err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// DownloadFile fetches media bytes by its opaque file id.
func (g *BotGateway) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := g.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func replyParams(replyTo int) *models.ReplyParameters {
	if replyTo == 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: replyTo}
}
