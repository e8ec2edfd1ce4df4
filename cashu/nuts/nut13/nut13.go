// Package nut13 implements deterministic secret and blinding
// factor derivation as defined in [NUT-13]
//
// [NUT-13]: https://github.com/cashubtc/nuts/blob/main/13.md
package nut13

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const purpose = 129372

// KeysetIdInt maps a keyset id to the index used in the derivation path.
// Hex ids (current mints) and base64 ids (legacy mints) are both
// interpreted as big-endian integers reduced mod 2^31 - 1.
func KeysetIdInt(keysetId string) (uint32, error) {
	idBytes, err := hex.DecodeString(keysetId)
	if err != nil {
		idBytes, err = base64.StdEncoding.DecodeString(keysetId)
		if err != nil {
			return 0, fmt.Errorf("invalid keyset id '%v'", keysetId)
		}
	}

	idInt := new(big.Int).SetBytes(idBytes)
	idInt.Mod(idInt, big.NewInt(1<<31-1))
	return uint32(idInt.Uint64()), nil
}

// DeriveKeysetPath returns the key at m/129372'/0'/keyset_k_int'
func DeriveKeysetPath(master *hdkeychain.ExtendedKey, keysetId string) (*hdkeychain.ExtendedKey, error) {
	keysetIdInt, err := KeysetIdInt(keysetId)
	if err != nil {
		return nil, err
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + purpose,
		hdkeychain.HardenedKeyStart + 0,
		hdkeychain.HardenedKeyStart + keysetIdInt,
	}

	key := master
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

// m/129372'/0'/keyset_k_int'/counter'/child
func deriveCounterChild(keysetPath *hdkeychain.ExtendedKey, counter, child uint32) (*secp256k1.PrivateKey, error) {
	counterPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + counter)
	if err != nil {
		return nil, err
	}

	childPath, err := counterPath.Derive(child)
	if err != nil {
		return nil, err
	}

	return childPath.ECPrivKey()
}

func DeriveSecret(keysetPath *hdkeychain.ExtendedKey, counter uint32) (string, error) {
	secretKey, err := deriveCounterChild(keysetPath, counter, 0)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(secretKey.Serialize()), nil
}

func DeriveBlindingFactor(keysetPath *hdkeychain.ExtendedKey, counter uint32) (*secp256k1.PrivateKey, error) {
	return deriveCounterChild(keysetPath, counter, 1)
}
