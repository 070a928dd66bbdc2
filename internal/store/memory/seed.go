package memory

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"kedaipos/backend/internal/domain"
)

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD and
// fall back to dev defaults with a warning. The Postgres store never calls it.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small packaging catalogue and the dev
// accounts, used when no DATABASE_URL is configured.
func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "KEK-8", Name: "Kotak Kek 8 inci", UnitPriceCents: 150, BoxPriceCents: 6500, PackPriceCents: 1400, BigBulkQty: 50, SmallBulkQty: 10, StockBalance: 200, ReorderPoint: 50},
		{ID: "PP-6X9", Name: "Plastik PP 6x9", UnitPriceCents: 5, BoxPriceCents: 4000, PackPriceCents: 450, BigBulkQty: 1000, SmallBulkQty: 100, StockBalance: 5000, ReorderPoint: 1000},
		{ID: "POLI-BSR", Name: "Bekas Polisterin Besar", UnitPriceCents: 30, BoxPriceCents: 12000, PackPriceCents: 1400, BigBulkQty: 500, SmallBulkQty: 50, StockBalance: 1500, ReorderPoint: 500},
		{ID: "CWN-16", Name: "Cawan Kertas 16oz", UnitPriceCents: 25, BoxPriceCents: 22000, PackPriceCents: 1150, BigBulkQty: 1000, SmallBulkQty: 50, StockBalance: 2000, ReorderPoint: 500},
		{ID: "STRAW-B", Name: "Straw Bengkok", UnitPriceCents: 2, BoxPriceCents: 3500, PackPriceCents: 180, BigBulkQty: 2000, SmallBulkQty: 100, StockBalance: 10000, ReorderPoint: 2000},
		{ID: "PITA-2", Name: "Pita Pelekat 2 inci", UnitPriceCents: 450, BoxPriceCents: 15000, PackPriceCents: 2500, BigBulkQty: 36, SmallBulkQty: 6, StockBalance: 72, ReorderPoint: 12},
	}

	s := New()
	s.users = seedUsers()
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.data.products[p.ID] = p
	}
	return s
}
