package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/receipt"
	"kedaipos/backend/internal/store"
)

type SaleReader interface {
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSalePayments(ctx context.Context, saleID string) ([]domain.Payment, error)
}

// Sink receives rendered receipts, e.g. a spool directory watched by the
// printer bridge.
type Sink interface {
	Deliver(ctx context.Context, r domain.ReceiptResponse) error
}

type ReceiptHandler struct {
	sales    SaleReader
	sink     Sink
	shopName string
	location *time.Location
	log      zerolog.Logger
	observe  func(stage string, err error)
}

type HandlerOption func(*ReceiptHandler)

func WithLocation(loc *time.Location) HandlerOption {
	return func(h *ReceiptHandler) { h.location = loc }
}

func WithObserver(fn func(stage string, err error)) HandlerOption {
	return func(h *ReceiptHandler) { h.observe = fn }
}

func NewReceiptHandler(sales SaleReader, sink Sink, shopName string, logger zerolog.Logger, opts ...HandlerOption) *ReceiptHandler {
	h := &ReceiptHandler{
		sales:    sales,
		sink:     sink,
		shopName: shopName,
		location: time.UTC,
		log:      logger.With().Str("component", "receipt-worker").Logger(),
		observe:  func(string, error) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ReceiptHandler) HandleSaleReceipt(ctx context.Context, t *asynq.Task) error {
	err := h.handle(ctx, t)
	h.observe("render", err)
	return err
}

func (h *ReceiptHandler) handle(ctx context.Context, t *asynq.Task) error {
	var payload SaleReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.SaleID == "" {
		return fmt.Errorf("bad receipt payload: %w", asynq.SkipRetry)
	}

	sale, err := h.sales.GetSale(ctx, payload.SaleID)
	if errors.Is(err, store.ErrNotFound) {
		h.log.Info().Str("sale_id", payload.SaleID).Msg("sale deleted before its receipt was printed")
		return fmt.Errorf("sale %s: %w", payload.SaleID, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	payments, err := h.sales.ListSalePayments(ctx, sale.ID)
	if err != nil {
		return err
	}

	rendered := receipt.Build(h.shopName, *sale, payments, h.location)
	if err := h.sink.Deliver(ctx, rendered); err != nil {
		return fmt.Errorf("deliver receipt %s: %w", sale.ID, err)
	}
	h.log.Debug().Str("sale_id", sale.ID).Msg("receipt delivered")
	return nil
}

// SpoolSink writes the raw ESC/POS bytes and the preview next to each other.
type SpoolSink struct {
	Dir string
}

func (s SpoolSink) Deliver(_ context.Context, r domain.ReceiptResponse) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(r.EscposBase64)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.Dir, r.FileName), raw, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, r.SaleID+".txt"), []byte(r.PreviewText), 0o644)
}
