package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const maxOrder = 64

// MintKeyset holds the private keys of a mint.
// Only the test mint needs one.
type MintKeyset struct {
	Id   string
	Keys map[uint64]KeyPair
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// GenerateKeyset derives one key for every power of two below 2^maxOrder
// from the seed and derivation path.
func GenerateKeyset(seed, derivationPath string) *MintKeyset {
	keys := make(map[uint64]KeyPair, maxOrder)
	pubkeys := make(map[uint64]*secp256k1.PublicKey, maxOrder)

	for i := 0; i < maxOrder; i++ {
		amount := uint64(1) << i
		hash := sha256.Sum256([]byte(seed + derivationPath + strconv.FormatUint(amount, 10)))
		privKey, pubKey := btcec.PrivKeyFromBytes(hash[:])
		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: pubKey}
		pubkeys[amount] = pubKey
	}

	return &MintKeyset{Id: DeriveKeysetId(pubkeys), Keys: keys}
}

// PublicKeys returns the hex public keys by amount, as served on /keys.
func (ks *MintKeyset) PublicKeys() map[uint64]string {
	pubkeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubkeys
}

// DeriveKeysetId computes the legacy id: the first 12 characters of
// base64(sha256(hex pubkeys concatenated in ascending amount order)).
func DeriveKeysetId(keys map[uint64]*secp256k1.PublicKey) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	slices.Sort(amounts)

	pubkeys := ""
	for _, amount := range amounts {
		pubkeys += hex.EncodeToString(keys[amount].SerializeCompressed())
	}
	hash := sha256.Sum256([]byte(pubkeys))

	return base64.StdEncoding.EncodeToString(hash[:])[:12]
}

// WalletKeyset is the public side of a mint keyset.
type WalletKeyset struct {
	Id         string
	MintURL    string
	Active     bool
	PublicKeys map[uint64]*secp256k1.PublicKey
}

// NewWalletKeyset parses the hex keys returned by a mint
// and derives the keyset id from them.
func NewWalletKeyset(mintURL string, keys map[uint64]string) (*WalletKeyset, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("mint returned an empty keyset")
	}

	pubkeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		pubkey, err := PublicKeyFromHex(key)
		if err != nil {
			return nil, fmt.Errorf("invalid key for amount %v: %v", amount, err)
		}
		pubkeys[amount] = pubkey
	}

	return &WalletKeyset{
		Id:         DeriveKeysetId(pubkeys),
		MintURL:    mintURL,
		Active:     true,
		PublicKeys: pubkeys,
	}, nil
}

type walletKeysetTemp struct {
	Id         string            `json:"id"`
	MintURL    string            `json:"mint_url"`
	Active     bool              `json:"active"`
	PublicKeys map[uint64][]byte `json:"public_keys"`
}

func (wk *WalletKeyset) MarshalJSON() ([]byte, error) {
	temp := walletKeysetTemp{
		Id:         wk.Id,
		MintURL:    wk.MintURL,
		Active:     wk.Active,
		PublicKeys: make(map[uint64][]byte, len(wk.PublicKeys)),
	}
	for amount, key := range wk.PublicKeys {
		temp.PublicKeys[amount] = key.SerializeCompressed()
	}
	return json.Marshal(temp)
}

func (wk *WalletKeyset) UnmarshalJSON(data []byte) error {
	var temp walletKeysetTemp
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	wk.Id = temp.Id
	wk.MintURL = temp.MintURL
	wk.Active = temp.Active
	wk.PublicKeys = make(map[uint64]*secp256k1.PublicKey, len(temp.PublicKeys))
	for amount, keyBytes := range temp.PublicKeys {
		key, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return err
		}
		wk.PublicKeys[amount] = key
	}
	return nil
}
