package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/elnosh/nutsack/crypto"
	"github.com/elnosh/nutsack/wallet/storage"
	"golang.org/x/sync/singleflight"
)

// KeysetRegistry caches the keysets of every mint the wallet has used.
// Keysets are looked up in memory, then in the db and then fetched
// from the mint. Every keyset seen is kept so that proofs from
// keysets the mint rotated out can still be read.
type KeysetRegistry struct {
	mu sync.RWMutex
	db storage.WalletDB
	// mint url to active keyset
	active map[string]*crypto.WalletKeyset
	// mint url to map of keyset id to keyset
	keysets map[string]map[string]*crypto.WalletKeyset
	loaded  map[string]bool

	clientFor func(mintURL string) MintAPI
	group     singleflight.Group
	logger    *slog.Logger
}

func NewKeysetRegistry(db storage.WalletDB, clientFor func(mintURL string) MintAPI, logger *slog.Logger) *KeysetRegistry {
	return &KeysetRegistry{
		db:        db,
		active:    make(map[string]*crypto.WalletKeyset),
		keysets:   make(map[string]map[string]*crypto.WalletKeyset),
		loaded:    make(map[string]bool),
		clientFor: clientFor,
		logger:    logger,
	}
}

// Keyset returns the active keyset of the mint.
func (kr *KeysetRegistry) Keyset(ctx context.Context, mintURL string) (*crypto.WalletKeyset, error) {
	if err := kr.loadStored(mintURL); err != nil {
		return nil, err
	}

	kr.mu.RLock()
	keyset, ok := kr.active[mintURL]
	kr.mu.RUnlock()
	if ok {
		return keyset, nil
	}

	return kr.Refresh(ctx, mintURL)
}

// KeysetById returns the keyset with the id. If the id is unknown, the
// keys are fetched again from the mint in case it rotated its keyset.
func (kr *KeysetRegistry) KeysetById(ctx context.Context, mintURL, id string) (*crypto.WalletKeyset, error) {
	if err := kr.loadStored(mintURL); err != nil {
		return nil, err
	}

	if keyset, ok := kr.lookup(mintURL, id); ok {
		return keyset, nil
	}

	kr.logger.Info(fmt.Sprintf("unknown keyset '%v' from mint '%v'. Fetching keys again", id, mintURL))
	if _, err := kr.Refresh(ctx, mintURL); err != nil {
		return nil, err
	}

	if keyset, ok := kr.lookup(mintURL, id); ok {
		return keyset, nil
	}
	return nil, protocolErrorf("keyset", mintURL, "unknown keyset id '%v'", id)
}

// Keysets returns every known keyset of the mint.
func (kr *KeysetRegistry) Keysets(mintURL string) ([]*crypto.WalletKeyset, error) {
	if err := kr.loadStored(mintURL); err != nil {
		return nil, err
	}

	kr.mu.RLock()
	defer kr.mu.RUnlock()

	keysets := make([]*crypto.WalletKeyset, 0, len(kr.keysets[mintURL]))
	for _, keyset := range kr.keysets[mintURL] {
		keysets = append(keysets, keyset)
	}
	return keysets, nil
}

// Refresh fetches the current keys from the mint and makes them the
// active keyset. Concurrent calls for the same mint share one request.
func (kr *KeysetRegistry) Refresh(ctx context.Context, mintURL string) (*crypto.WalletKeyset, error) {
	keyset, err, _ := kr.group.Do(mintURL, func() (any, error) {
		return kr.fetch(ctx, mintURL)
	})
	if err != nil {
		return nil, err
	}
	return keyset.(*crypto.WalletKeyset), nil
}

func (kr *KeysetRegistry) fetch(ctx context.Context, mintURL string) (*crypto.WalletKeyset, error) {
	keys, err := kr.clientFor(mintURL).GetKeys(ctx)
	if err != nil {
		return nil, err
	}

	keyset, err := crypto.NewWalletKeyset(mintURL, keys)
	if err != nil {
		return nil, protocolError("get keys", mintURL, err)
	}

	kr.mu.Lock()
	defer kr.mu.Unlock()

	if _, ok := kr.keysets[mintURL]; !ok {
		kr.keysets[mintURL] = make(map[string]*crypto.WalletKeyset)
	}

	if previous, ok := kr.active[mintURL]; ok && previous.Id != keyset.Id {
		kr.logger.Info(fmt.Sprintf("mint '%v' rotated keyset from '%v' to '%v'", mintURL, previous.Id, keyset.Id))
		inactive := *previous
		inactive.Active = false
		if err := kr.db.SaveKeyset(&inactive); err != nil {
			return nil, fmt.Errorf("error saving keyset: %v", err)
		}
		kr.keysets[mintURL][inactive.Id] = &inactive
	}

	if err := kr.db.SaveKeyset(keyset); err != nil {
		return nil, fmt.Errorf("error saving keyset: %v", err)
	}
	kr.keysets[mintURL][keyset.Id] = keyset
	kr.active[mintURL] = keyset

	return keyset, nil
}

func (kr *KeysetRegistry) lookup(mintURL, id string) (*crypto.WalletKeyset, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	keyset, ok := kr.keysets[mintURL][id]
	return keyset, ok
}

func (kr *KeysetRegistry) loadStored(mintURL string) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	if kr.loaded[mintURL] {
		return nil
	}

	stored, err := kr.db.GetKeysets(mintURL)
	if err != nil {
		return fmt.Errorf("error getting keysets from db: %v", err)
	}

	keysets := make(map[string]*crypto.WalletKeyset, len(stored))
	for i := range stored {
		keyset := &stored[i]
		keysets[keyset.Id] = keyset
		if keyset.Active {
			kr.active[mintURL] = keyset
		}
	}
	kr.keysets[mintURL] = keysets
	kr.loaded[mintURL] = true

	return nil
}
