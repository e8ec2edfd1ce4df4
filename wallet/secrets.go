package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/nutsack/cashu/nuts/nut13"
	"github.com/elnosh/nutsack/wallet/storage"
)

// SecretGenerator hands out one fresh secret and blinding factor
// per output. A secret is never handed out twice.
type SecretGenerator interface {
	Generate(keysetId string, n int) ([]string, []*secp256k1.PrivateKey, error)
}

type randomSecrets struct{}

func (randomSecrets) Generate(_ string, n int) ([]string, []*secp256k1.PrivateKey, error) {
	secrets := make([]string, n)
	rs := make([]*secp256k1.PrivateKey, n)

	for i := 0; i < n; i++ {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, nil, err
		}
		secrets[i] = hex.EncodeToString(secretBytes)

		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
		rs[i] = r
	}

	return secrets, rs, nil
}

// deterministicSecrets derives secrets and blinding factors from the
// wallet seed. The keyset counter is persisted before deriving so that
// a counter value is never used twice, even if the process dies.
type deterministicSecrets struct {
	mu      sync.Mutex
	master  *hdkeychain.ExtendedKey
	db      storage.WalletDB
	mintURL string
	// derivation paths by keyset id
	keysetPaths map[string]*hdkeychain.ExtendedKey
}

func newDeterministicSecrets(master *hdkeychain.ExtendedKey, db storage.WalletDB, mintURL string) *deterministicSecrets {
	return &deterministicSecrets{
		master:      master,
		db:          db,
		mintURL:     mintURL,
		keysetPaths: make(map[string]*hdkeychain.ExtendedKey),
	}
}

func (ds *deterministicSecrets) Generate(keysetId string, n int) ([]string, []*secp256k1.PrivateKey, error) {
	if n == 0 {
		return []string{}, []*secp256k1.PrivateKey{}, nil
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	keysetPath, ok := ds.keysetPaths[keysetId]
	if !ok {
		var err error
		keysetPath, err = nut13.DeriveKeysetPath(ds.master, keysetId)
		if err != nil {
			return nil, nil, fmt.Errorf("error deriving keyset path: %v", err)
		}
		ds.keysetPaths[keysetId] = keysetPath
	}

	counter, err := ds.db.IncrementKeysetCounter(ds.mintURL, keysetId, uint32(n))
	if err != nil {
		return nil, nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	secrets := make([]string, n)
	rs := make([]*secp256k1.PrivateKey, n)
	for i := 0; i < n; i++ {
		secret, err := nut13.DeriveSecret(keysetPath, counter+uint32(i))
		if err != nil {
			return nil, nil, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, counter+uint32(i))
		if err != nil {
			return nil, nil, err
		}
		secrets[i] = secret
		rs[i] = r
	}

	return secrets, rs, nil
}
