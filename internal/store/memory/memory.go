package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/store"
)

var errOffline = errors.New("memory store offline")

// Store keeps every collection in process. Units of work run one at a time
// against a staged copy which replaces the live data on commit, so readers
// never observe a half-applied transaction.
type Store struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	data  state
	users map[string]domain.UserAccount

	faultMu sync.Mutex
	faults  []FaultStage
	offline atomic.Bool
}

type state struct {
	products       map[string]domain.Product
	movements      []domain.StockMovement
	sales          map[string]domain.Sale
	salesByIdem    map[string]string
	salePayments   map[string][]domain.Payment
	payments       []domain.Payment
	paymentsByIdem map[string]domain.Payment
	purchases      map[string]domain.Purchase
	returns        map[string]domain.Return
	auditLogs      []domain.AuditLog
}

func newState() state {
	return state{
		products:       make(map[string]domain.Product),
		movements:      make([]domain.StockMovement, 0, 128),
		sales:          make(map[string]domain.Sale),
		salesByIdem:    make(map[string]string),
		salePayments:   make(map[string][]domain.Payment),
		payments:       make([]domain.Payment, 0, 64),
		paymentsByIdem: make(map[string]domain.Payment),
		purchases:      make(map[string]domain.Purchase),
		returns:        make(map[string]domain.Return),
		auditLogs:      make([]domain.AuditLog, 0, 128),
	}
}

// clone copies the containers. Entity values are replaced, never mutated in
// place, so sharing their inner slices is safe.
func (s state) clone() state {
	salePayments := make(map[string][]domain.Payment, len(s.salePayments))
	for saleID, payments := range s.salePayments {
		salePayments[saleID] = slices.Clone(payments)
	}
	return state{
		products:       maps.Clone(s.products),
		movements:      slices.Clone(s.movements),
		sales:          maps.Clone(s.sales),
		salesByIdem:    maps.Clone(s.salesByIdem),
		salePayments:   salePayments,
		payments:       slices.Clone(s.payments),
		paymentsByIdem: maps.Clone(s.paymentsByIdem),
		purchases:      maps.Clone(s.purchases),
		returns:        maps.Clone(s.returns),
		auditLogs:      slices.Clone(s.auditLogs),
	}
}

func New() *Store {
	return &Store{
		data:  newState(),
		users: make(map[string]domain.UserAccount),
	}
}

func (s *Store) Ping(_ context.Context) error {
	if s.offline.Load() {
		return errOffline
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.offline.Load() {
		return &store.ConnectivityError{Op: "begin transaction", Err: errOffline}
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return &store.ConnectivityError{Op: "begin transaction", Err: err}
	}

	s.mu.RLock()
	staged := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{data: &staged}); err != nil {
		return err
	}

	switch s.takeFault() {
	case FaultLoseCommit:
		return &store.ConnectivityError{Op: "commit", OutcomeUnknown: true, Err: context.DeadlineExceeded}
	case FaultTimeoutAfterCommit:
		s.swap(staged)
		return &store.ConnectivityError{Op: "commit", OutcomeUnknown: true, Err: context.DeadlineExceeded}
	}

	if err := ctx.Err(); err != nil {
		return &store.ConnectivityError{Op: "commit", Err: err}
	}
	s.swap(staged)
	return nil
}

func (s *Store) swap(staged state) {
	s.mu.Lock()
	s.data = staged
	s.mu.Unlock()
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.data.products))
	for _, p := range s.data.products {
		if p.Active {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.data.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 32)
	for i := len(s.data.movements) - 1; i >= 0; i-- {
		movement := s.data.movements[i]
		if productID != "" && movement.ProductID != productID {
			continue
		}
		result = append(result, movement)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.data.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.data.saleByIdempotency(key)
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.data.sales))
	for _, sale := range s.data.sales {
		if filter.Match(sale) {
			sales = append(sales, *cloneSale(sale))
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(sales, filter.Limit), nil
}

func (s *Store) ListSalePayments(_ context.Context, saleID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.data.salePayments[saleID]), nil
}

func (s *Store) ListPayments(_ context.Context, filter store.PaymentFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, len(s.data.payments))
	for i := len(s.data.payments) - 1; i >= 0; i-- {
		if filter.Match(s.data.payments[i]) {
			payments = append(payments, s.data.payments[i])
		}
	}
	return truncate(payments, filter.Limit), nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.data.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(purchase), nil
}

func (s *Store) ListPurchases(_ context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, len(s.data.purchases))
	for _, purchase := range s.data.purchases {
		if status != "" && purchase.Status != status {
			continue
		}
		purchases = append(purchases, *clonePurchase(purchase))
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(purchases, limit), nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.data.returns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReturn(ret), nil
}

func (s *Store) ListReturns(_ context.Context, limit int) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	returns := make([]domain.Return, 0, len(s.data.returns))
	for _, ret := range s.data.returns {
		returns = append(returns, *cloneReturn(ret))
	}
	slices.SortFunc(returns, func(a, b domain.Return) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return truncate(returns, limit), nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.AuditLog, 0, 64)
	for i := len(s.data.auditLogs) - 1; i >= 0; i-- {
		if filter.Match(s.data.auditLogs[i]) {
			entries = append(entries, s.data.auditLogs[i])
		}
	}
	return truncate(entries, filter.Limit), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.users[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneSale(src domain.Sale) *domain.Sale {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return &dup
}

func clonePurchase(src domain.Purchase) *domain.Purchase {
	dup := src
	dup.Items = slices.Clone(src.Items)
	if src.ReceivedAt != nil {
		at := *src.ReceivedAt
		dup.ReceivedAt = &at
	}
	return &dup
}

func cloneReturn(src domain.Return) *domain.Return {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return &dup
}
