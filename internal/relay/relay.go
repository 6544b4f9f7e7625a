// ABOUTME: Relay service wiring the webhook, binding store, registry and platform API
// ABOUTME: Owns the sync mutex, dedupe cache and periodic maintenance loop

package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/szjhtz/easyclaw-sub002/internal/dedupe"
	"github.com/szjhtz/easyclaw-sub002/internal/gateway"
	"github.com/szjhtz/easyclaw-sub002/internal/store"
	"github.com/szjhtz/easyclaw-sub002/internal/wecom"
)

// PlatformClient is the slice of the WeCom API the relay consumes.
// *wecom.Client satisfies it; tests substitute a fake.
type PlatformClient interface {
	SyncMessages(ctx context.Context, cursor, token string) (*wecom.SyncPage, error)
	SendText(ctx context.Context, externalUserID, content string) error
	SendImage(ctx context.Context, externalUserID, mediaID string) error
	EndSession(ctx context.Context, externalUserID string) error
	AddContactWay(ctx context.Context, scene int) (string, error)
}

// Config holds the relay's webhook credentials and pairing settings.
type Config struct {
	// CorpID is the expected tenant id inside encrypted payloads.
	CorpID string
	// CallbackToken signs webhook callbacks.
	CallbackToken string
	// Keypair decrypts webhook payloads.
	Keypair wecom.Keypair
	// ContactScene is the scene number of the shared pairing contact way.
	ContactScene int
	// ProcessTimeout bounds the asynchronous handling of one webhook
	// delivery, decrypt through sync. Defaults to 60s.
	ProcessTimeout time.Duration
}

// Relay routes customer-service messages between the platform webhook surface
// and connected gateway processes.
type Relay struct {
	cfg      Config
	store    store.Store
	client   PlatformClient
	registry *gateway.Registry
	seen     *dedupe.Cache
	logger   *slog.Logger

	// syncMu serializes cursor pulls; overlapping webhook deliveries for the
	// same account must not race the checkpoint.
	syncMu sync.Mutex

	// contactMu guards the memoized contact-way URL. One underlying contact
	// way serves every pairing attempt for the process lifetime.
	contactMu  sync.Mutex
	contactURL string
}

// New creates a Relay.
func New(cfg Config, st store.Store, client PlatformClient, registry *gateway.Registry, logger *slog.Logger) *Relay {
	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = 60 * time.Second
	}
	return &Relay{
		cfg:      cfg,
		store:    st,
		client:   client,
		registry: registry,
		seen:     dedupe.New(10*time.Minute, 4096),
		logger:   logger.With("component", "relay"),
	}
}

// Run performs periodic maintenance until ctx is cancelled: expired pairing
// tokens are swept from the store and the dedupe cache is compacted. Neither
// is required for correctness, only for storage hygiene.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count, err := r.store.DeleteExpiredPendingBindings(ctx); err != nil {
				r.logger.Warn("sweeping expired pending bindings", "error", err)
			} else if count > 0 {
				r.logger.Info("swept expired pending bindings", "count", count)
			}
			r.seen.Sweep()
		}
	}
}
