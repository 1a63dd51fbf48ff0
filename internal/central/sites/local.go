package sites

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
)

var (
	ErrAccountNotFound = errors.New("sites: local account not found")
	ErrAccountExists   = errors.New("sites: local account already exists")
	ErrUnknownSite     = errors.New("sites: unknown site")
)

// LocalStore is the access surface onto one site's account table. Each
// site's database is an independently lockable resource; nothing here is
// transactional across sites.
type LocalStore interface {
	// GetAccount returns the local account for an exact name.
	GetAccount(ctx context.Context, name string) (domain.LocalAccount, error)

	// AccountExists reports whether a local account bears the name.
	AccountExists(ctx context.Context, name string) (bool, error)

	// CreateAccount inserts a new local account.
	CreateAccount(ctx context.Context, a domain.LocalAccount) error

	// RenameAccount retargets a local account's name. Renaming a name
	// that no longer exists returns ErrAccountNotFound, which callers use
	// to detect already-applied rename tasks.
	RenameAccount(ctx context.Context, oldName, newName string) error

	// UpdateEmail refreshes the local email snapshot from the global
	// authority.
	UpdateEmail(ctx context.Context, name, email string, verified *time.Time) error

	Close() error
}

// Connector resolves a site id into a connected LocalStore.
type Connector interface {
	Connect(ctx context.Context, siteID string) (LocalStore, error)
}

// StaticConnector serves pre-opened stores from a map. The production
// wiring opens one sqlite store per registered site at startup; tests
// inject fakes directly.
type StaticConnector struct {
	mu     sync.RWMutex
	stores map[string]LocalStore
}

func NewStaticConnector() *StaticConnector {
	return &StaticConnector{stores: make(map[string]LocalStore)}
}

// Register adds or replaces the store for a site.
func (c *StaticConnector) Register(siteID string, ls LocalStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[siteID] = ls
}

func (c *StaticConnector) Connect(_ context.Context, siteID string) (LocalStore, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ls, ok := c.stores[siteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, siteID)
	}
	return ls, nil
}

// CloseAll closes every registered store.
func (c *StaticConnector) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for _, ls := range c.stores {
		if err := ls.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
