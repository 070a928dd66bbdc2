package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/store"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var body productBody
	if !bind(w, r, &body) {
		return
	}
	req, err := body.toDomain()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleProductMovements(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 500)
	movements, err := a.service.ListStockMovements(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.LowStock(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var body stockAdjustmentBody
	if !bind(w, r, &body) {
		return
	}
	resp, err := a.service.AdjustStock(r.Context(), body.toDomain())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var body createSaleBody
	if !bind(w, r, &body) {
		return
	}
	req, err := body.toDomain()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := a.parseTime("from", query.Get("from"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	to, err := a.parseTime("to", query.Get("to"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), store.SaleFilter{
		Status:   domain.SaleStatus(strings.TrimSpace(query.Get("status"))),
		Customer: strings.TrimSpace(query.Get("customer")),
		From:     from,
		To:       to,
		Limit:    parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

// handleSaleLookup lets a till that lost its response find out whether the
// sale it submitted was recorded.
func (a *API) handleSaleLookup(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.LookupSaleByIdempotency(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSaleReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.SaleReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	var body confirmBody
	if !bind(w, r, &body) {
		return
	}
	if err := a.service.DeleteSale(r.Context(), chi.URLParam(r, "id"), body.Password); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var body recordPaymentBody
	if !bind(w, r, &body) {
		return
	}
	req, err := body.toDomain(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.service.RecordPayment(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleSalePayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListSalePayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := a.parseTime("from", query.Get("from"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	to, err := a.parseTime("to", query.Get("to"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	payments, err := a.service.ListPayments(r.Context(), store.PaymentFilter{
		Customer: strings.TrimSpace(query.Get("customer")),
		From:     from,
		To:       to,
		Limit:    parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleCreditAging(w http.ResponseWriter, r *http.Request) {
	asOf, err := a.parseTime("as_of", r.URL.Query().Get("as_of"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	report, err := a.service.CreditAging(r.Context(), asOf)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var body purchaseBody
	if !bind(w, r, &body) {
		return
	}
	req, err := body.toDomain()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.service.CreatePurchase(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resp, err := a.service.ListPurchases(r.Context(),
		domain.PurchaseStatus(strings.TrimSpace(query.Get("status"))),
		parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetPurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUpdatePurchase(w http.ResponseWriter, r *http.Request) {
	var body purchaseBody
	if !bind(w, r, &body) {
		return
	}
	req, err := body.toDomain()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp, err := a.service.UpdatePurchase(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePurchaseStatus(w http.ResponseWriter, r *http.Request) {
	var body purchaseStatusBody
	if !bind(w, r, &body) {
		return
	}
	resp, err := a.service.UpdatePurchaseStatus(r.Context(), chi.URLParam(r, "id"), body.toDomain())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	var body confirmBody
	if !bind(w, r, &body) {
		return
	}
	if err := a.service.DeletePurchase(r.Context(), chi.URLParam(r, "id"), body.Password); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var body returnBody
	if !bind(w, r, &body) {
		return
	}
	resp, err := a.service.CreateReturn(r.Context(), body.toDomain())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := a.service.ListReturns(r.Context(), parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetReturn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteReturn(w http.ResponseWriter, r *http.Request) {
	var body confirmBody
	if !bind(w, r, &body) {
		return
	}
	if err := a.service.DeleteReturn(r.Context(), chi.URLParam(r, "id"), body.Password); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := a.parseTime("from", query.Get("from"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	to, err := a.parseTime("to", query.Get("to"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	logs, err := a.service.ListAuditLogs(r.Context(), store.AuditFilter{
		Category: strings.TrimSpace(query.Get("category")),
		From:     from,
		To:       to,
		Limit:    parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}
