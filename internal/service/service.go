package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"kedaipos/backend/internal/cache"
	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/events"
	"kedaipos/backend/internal/ledger"
	"kedaipos/backend/internal/metrics"
	"kedaipos/backend/internal/notify"
	"kedaipos/backend/internal/store"
)

const DefaultOperationTimeout = 15 * time.Second

var (
	ErrAdminRequired = errors.New("admin role required")
	ErrReauthFailed  = errors.New("re-authentication failed")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Reauthenticator confirms the password of the acting user before
// destructive operations.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context, username string, password string) error
}

type Options struct {
	Publisher        events.Publisher
	Receipts         notify.ReceiptNotifier
	Reauth           Reauthenticator
	Metrics          *metrics.Metrics
	CreditCache      cache.CreditCache
	CreditCacheTTL   time.Duration
	Logger           zerolog.Logger
	OperationTimeout time.Duration
	Clock            func() time.Time
	ShopName         string
	Location         *time.Location
}

type Service struct {
	repo      store.Repository
	ledger    *ledger.Ledger
	publisher events.Publisher
	receipts  notify.ReceiptNotifier
	reauth    Reauthenticator
	metrics   *metrics.Metrics
	credit    cache.CreditCache
	creditTTL time.Duration
	log       zerolog.Logger
	timeout   time.Duration
	now       func() time.Time
	shopName  string
	location  *time.Location

	creditGroup singleflight.Group
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Publisher == nil {
		opts.Publisher = events.NewBroker()
	}
	if opts.Receipts == nil {
		opts.Receipts = notify.NoopNotifier{}
	}
	if opts.CreditCache == nil {
		opts.CreditCache = cache.NoopCreditCache{}
	}
	if opts.CreditCacheTTL <= 0 {
		opts.CreditCacheTTL = 5 * time.Minute
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.ShopName == "" {
		opts.ShopName = "Kedai POS"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Service{
		repo:      repo,
		ledger:    ledger.New(opts.Clock),
		publisher: opts.Publisher,
		receipts:  opts.Receipts,
		reauth:    opts.Reauth,
		metrics:   opts.Metrics,
		credit:    opts.CreditCache,
		creditTTL: opts.CreditCacheTTL,
		log:       opts.Logger.With().Str("component", "service").Logger(),
		timeout:   opts.OperationTimeout,
		now:       opts.Clock,
		shopName:  opts.ShopName,
		location:  opts.Location,
	}
}

// execute bounds op by the operation timeout. A deadline that surfaces
// without a store classification is reported as an unknown outcome, since
// the write may have reached the store before the context expired.
func (s *Service) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tracker := s.metrics.Track(op)
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, store.ErrConnectivity) {
		err = &store.ConnectivityError{Op: op, OutcomeUnknown: true, Err: err}
	}
	if store.OutcomeUnknown(err) {
		s.log.Warn().Err(err).Str("operation", op).Msg("write outcome unknown")
	}
	return tracker.End(err)
}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrAdminRequired
	}
	return actor, nil
}

// confirmPassword re-authenticates the acting user. Every failure looks the
// same to the caller.
func (s *Service) confirmPassword(ctx context.Context, password string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || s.reauth == nil || strings.TrimSpace(password) == "" {
		return domain.Actor{}, ErrReauthFailed
	}
	if err := s.reauth.Reauthenticate(ctx, actor.Username, password); err != nil {
		s.log.Info().Str("username", actor.Username).Err(err).Msg("re-authentication rejected")
		return domain.Actor{}, ErrReauthFailed
	}
	return actor, nil
}

// publish runs after a commit; the committed write stands even when the
// notification fails.
func (s *Service) publish(ctx context.Context, changes ...events.Change) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := s.publisher.Publish(ctx, changes...); err != nil {
		s.log.Warn().Err(err).Int("changes", len(changes)).Msg("failed to publish change events")
	}
}

func (s *Service) invalidateCredit(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.credit.Invalidate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate credit cache")
	}
}

func change(collection, op, id, status string, at time.Time) events.Change {
	return events.Change{Collection: collection, Op: op, EntityID: id, Status: status, At: at}
}

func limitOrDefault(limit int, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}
