package notify

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	QueueReceipts = "receipts"
	// TaskSaleReceipt renders and spools the receipt of a committed sale.
	TaskSaleReceipt = "receipt:sale"
)

type SaleReceiptPayload struct {
	SaleID string `json:"sale_id"`
}

func NewSaleReceiptTask(saleID string) (*asynq.Task, error) {
	data, err := json.Marshal(SaleReceiptPayload{SaleID: saleID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSaleReceipt, data), nil
}
