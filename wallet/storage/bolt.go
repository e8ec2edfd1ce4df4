package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/crypto"
	bolt "go.etcd.io/bbolt"
)

const (
	seedBucket  = "seed"
	mnemonicKey = "mnemonic"
	seedKey     = "seed"

	// nested buckets under the bucket of each mint
	proofsBucket   = "proofs"
	invoicesBucket = "invoices"
	keysBucket     = "keys"
	countersBucket = "counters"
)

var mintBuckets = []string{proofsBucket, invoicesBucket, keysBucket, countersBucket}

type BoltDB struct {
	bolt *bolt.DB
}

// proofs are stored with a sequence number to keep insertion order
type storedProof struct {
	Seq   uint64      `json:"seq"`
	Proof cashu.Proof `json:"proof"`
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initWalletBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(seedBucket))
		return err
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

// mintBucket returns the nested bucket for the mint, creating it if needed.
// The tx must be writable.
func mintBucket(tx *bolt.Tx, mintURL, name string) (*bolt.Bucket, error) {
	if mintURL == seedBucket {
		return nil, fmt.Errorf("invalid mint url '%v'", mintURL)
	}
	mintb, err := tx.CreateBucketIfNotExists([]byte(mintURL))
	if err != nil {
		return nil, err
	}
	for _, bucket := range mintBuckets {
		if _, err := mintb.CreateBucketIfNotExists([]byte(bucket)); err != nil {
			return nil, err
		}
	}
	return mintb.Bucket([]byte(name)), nil
}

// readMintBucket returns nil if nothing has been stored for the mint yet.
func readMintBucket(tx *bolt.Tx, mintURL, name string) *bolt.Bucket {
	if mintURL == seedBucket {
		return nil
	}
	mintb := tx.Bucket([]byte(mintURL))
	if mintb == nil {
		return nil
	}
	return mintb.Bucket([]byte(name))
}

func (db *BoltDB) SaveMnemonicSeed(mnemonic string, seed []byte) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		seedb := tx.Bucket([]byte(seedBucket))
		if err := seedb.Put([]byte(seedKey), seed); err != nil {
			return err
		}
		return seedb.Put([]byte(mnemonicKey), []byte(mnemonic))
	})
}

func (db *BoltDB) GetMnemonic() string {
	var mnemonic string
	db.bolt.View(func(tx *bolt.Tx) error {
		mnemonic = string(tx.Bucket([]byte(seedBucket)).Get([]byte(mnemonicKey)))
		return nil
	})
	return mnemonic
}

func (db *BoltDB) GetSeed() []byte {
	var seed []byte
	db.bolt.View(func(tx *bolt.Tx) error {
		seed = slices.Clone(tx.Bucket([]byte(seedBucket)).Get([]byte(seedKey)))
		return nil
	})
	return seed
}

func (db *BoltDB) GetProofs(mintURL string) (cashu.Proofs, error) {
	stored := []storedProof{}

	if err := db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := readMintBucket(tx, mintURL, proofsBucket)
		if proofsb == nil {
			return nil
		}

		return proofsb.ForEach(func(k, v []byte) error {
			var proof storedProof
			if err := json.Unmarshal(v, &proof); err != nil {
				return fmt.Errorf("error getting proofs: %v", err)
			}
			stored = append(stored, proof)
			return nil
		})
	}); err != nil {
		return nil, err
	}

	slices.SortFunc(stored, func(a, b storedProof) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	proofs := make(cashu.Proofs, len(stored))
	for i, proof := range stored {
		proofs[i] = proof.Proof
	}
	return proofs, nil
}

func putProofs(proofsb *bolt.Bucket, proofs cashu.Proofs) error {
	for _, proof := range proofs {
		if proofsb.Get([]byte(proof.Secret)) != nil {
			return fmt.Errorf("proof with secret '%v' already exists", proof.Secret)
		}
		seq, err := proofsb.NextSequence()
		if err != nil {
			return err
		}
		jsonProof, err := json.Marshal(storedProof{Seq: seq, Proof: proof})
		if err != nil {
			return fmt.Errorf("invalid proof: %v", err)
		}
		if err := proofsb.Put([]byte(proof.Secret), jsonProof); err != nil {
			return err
		}
	}
	return nil
}

func deleteProofs(proofsb *bolt.Bucket, secrets []string) error {
	for _, secret := range secrets {
		if proofsb.Get([]byte(secret)) == nil {
			return ErrProofNotFound
		}
		if err := proofsb.Delete([]byte(secret)); err != nil {
			return err
		}
	}
	return nil
}

func (db *BoltDB) SaveProofs(mintURL string, proofs cashu.Proofs) error {
	return db.ReplaceProofs(mintURL, nil, proofs)
}

func (db *BoltDB) DeleteProofs(mintURL string, secrets []string) error {
	return db.ReplaceProofs(mintURL, secrets, nil)
}

func (db *BoltDB) ReplaceProofs(mintURL string, remove []string, add cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb, err := mintBucket(tx, mintURL, proofsBucket)
		if err != nil {
			return err
		}
		if err := deleteProofs(proofsb, remove); err != nil {
			return err
		}
		return putProofs(proofsb, add)
	})
}

func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(keyset)
	if err != nil {
		return fmt.Errorf("invalid keyset format: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysb, err := mintBucket(tx, keyset.MintURL, keysBucket)
		if err != nil {
			return err
		}
		return keysb.Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets(mintURL string) ([]crypto.WalletKeyset, error) {
	keysets := []crypto.WalletKeyset{}

	if err := db.bolt.View(func(tx *bolt.Tx) error {
		keysb := readMintBucket(tx, mintURL, keysBucket)
		if keysb == nil {
			return nil
		}

		return keysb.ForEach(func(k, v []byte) error {
			var keyset crypto.WalletKeyset
			if err := json.Unmarshal(v, &keyset); err != nil {
				return fmt.Errorf("error getting keysets: %v", err)
			}
			keysets = append(keysets, keyset)
			return nil
		})
	}); err != nil {
		return nil, err
	}

	return keysets, nil
}

func (db *BoltDB) IncrementKeysetCounter(mintURL, keysetId string, num uint32) (uint32, error) {
	var prev uint32

	err := db.bolt.Update(func(tx *bolt.Tx) error {
		countersb, err := mintBucket(tx, mintURL, countersBucket)
		if err != nil {
			return err
		}

		if counterBytes := countersb.Get([]byte(keysetId)); counterBytes != nil {
			prev = binary.BigEndian.Uint32(counterBytes)
		}
		if prev+num < prev {
			return errors.New("keyset counter overflow")
		}

		counter := make([]byte, 4)
		binary.BigEndian.PutUint32(counter, prev+num)
		return countersb.Put([]byte(keysetId), counter)
	})
	if err != nil {
		return 0, err
	}

	return prev, nil
}

func (db *BoltDB) GetKeysetCounter(mintURL, keysetId string) uint32 {
	var counter uint32
	db.bolt.View(func(tx *bolt.Tx) error {
		countersb := readMintBucket(tx, mintURL, countersBucket)
		if countersb == nil {
			return nil
		}
		if counterBytes := countersb.Get([]byte(keysetId)); counterBytes != nil {
			counter = binary.BigEndian.Uint32(counterBytes)
		}
		return nil
	})
	return counter
}

func (db *BoltDB) SaveInvoice(mintURL string, invoice Invoice) error {
	jsonbytes, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("invalid invoice: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		invoicesb, err := mintBucket(tx, mintURL, invoicesBucket)
		if err != nil {
			return err
		}
		return invoicesb.Put([]byte(invoice.Hash), jsonbytes)
	})
}

func (db *BoltDB) GetInvoice(mintURL, hash string) *Invoice {
	var invoice *Invoice

	db.bolt.View(func(tx *bolt.Tx) error {
		invoicesb := readMintBucket(tx, mintURL, invoicesBucket)
		if invoicesb == nil {
			return nil
		}
		invoiceBytes := invoicesb.Get([]byte(hash))
		if invoiceBytes == nil {
			return nil
		}
		if err := json.Unmarshal(invoiceBytes, &invoice); err != nil {
			invoice = nil
		}
		return nil
	})

	return invoice
}

func (db *BoltDB) GetInvoices(mintURL string) []Invoice {
	invoices := []Invoice{}

	db.bolt.View(func(tx *bolt.Tx) error {
		invoicesb := readMintBucket(tx, mintURL, invoicesBucket)
		if invoicesb == nil {
			return nil
		}

		return invoicesb.ForEach(func(k, v []byte) error {
			var invoice Invoice
			if err := json.Unmarshal(v, &invoice); err != nil {
				invoices = []Invoice{}
				return err
			}
			invoices = append(invoices, invoice)
			return nil
		})
	})

	return invoices
}

// Mints returns the urls of every mint with data in the db.
func (db *BoltDB) Mints() []string {
	mints := []string{}

	db.bolt.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if string(name) != seedBucket {
				mints = append(mints, string(name))
			}
			return nil
		})
	})

	return mints
}
