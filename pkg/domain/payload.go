package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedPayload reports an invoice payload that does not match the
// expected "payment|<amount>|<message-id>|<media-kind>" shape.
var ErrMalformedPayload = errors.New("malformed invoice payload")

const payloadTag = "payment"

// InvoicePayload identifies the job an invoice settles. It travels inside the
// invoice round-trip and comes back verbatim on the payment confirmation.
type InvoicePayload struct {
	Amount    int
	MessageID int
	Kind      MediaKind
}

// Encode renders the pipe-delimited wire form.
func (p InvoicePayload) Encode() string {
	return fmt.Sprintf("%s|%d|%d|%s", payloadTag, p.Amount, p.MessageID, p.Kind)
}

// ParseInvoicePayload decodes the wire form, rejecting anything with the
// wrong tag, field count, number format, or media kind.
func ParseInvoicePayload(s string) (InvoicePayload, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 || parts[0] != payloadTag {
		return InvoicePayload{}, ErrMalformedPayload
	}
	amount, err := strconv.Atoi(parts[1])
	if err != nil {
		return InvoicePayload{}, ErrMalformedPayload
	}
	messageID, err := strconv.Atoi(parts[2])
	if err != nil {
		return InvoicePayload{}, ErrMalformedPayload
	}
	kind := MediaKind(parts[3])
	if !kind.Valid() {
		return InvoicePayload{}, ErrMalformedPayload
	}
	return InvoicePayload{Amount: amount, MessageID: messageID, Kind: kind}, nil
}
