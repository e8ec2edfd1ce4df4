package wallet

import (
	"fmt"
	"slices"
	"sync"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/wallet/storage"
)

// ProofStore holds the proofs of one mint indexed by secret.
// Proofs handed to an in-flight operation are marked as reserved
// and do not count towards the balance until released.
// Reservations only live in memory.
type ProofStore struct {
	mu      sync.RWMutex
	mintURL string
	db      storage.WalletDB

	proofs map[string]cashu.Proof
	// secrets in insertion order
	order    []string
	reserved map[string]bool
}

func LoadProofStore(db storage.WalletDB, mintURL string) (*ProofStore, error) {
	stored, err := db.GetProofs(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting proofs from db: %v", err)
	}

	ps := &ProofStore{
		mintURL:  mintURL,
		db:       db,
		proofs:   make(map[string]cashu.Proof, len(stored)),
		order:    make([]string, 0, len(stored)),
		reserved: make(map[string]bool),
	}
	ps.insert(stored)

	return ps, nil
}

// Balance is the amount of the proofs that are not reserved.
func (ps *ProofStore) Balance() uint64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var balance uint64
	for _, secret := range ps.order {
		if !ps.reserved[secret] {
			balance += ps.proofs[secret].Amount
		}
	}
	return balance
}

func (ps *ProofStore) ReservedBalance() uint64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var balance uint64
	for secret := range ps.reserved {
		balance += ps.proofs[secret].Amount
	}
	return balance
}

// List returns all proofs, reserved or not.
func (ps *ProofStore) List() cashu.Proofs {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	proofs := make(cashu.Proofs, len(ps.order))
	for i, secret := range ps.order {
		proofs[i] = ps.proofs[secret]
	}
	return proofs
}

func (ps *ProofStore) Unreserved() cashu.Proofs {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.unreserved()
}

func (ps *ProofStore) unreserved() cashu.Proofs {
	proofs := make(cashu.Proofs, 0, len(ps.order))
	for _, secret := range ps.order {
		if !ps.reserved[secret] {
			proofs = append(proofs, ps.proofs[secret])
		}
	}
	return proofs
}

func (ps *ProofStore) Add(proofs cashu.Proofs) error {
	return ps.Commit(nil, proofs)
}

// AddReserved adds proofs already marked as reserved.
func (ps *ProofStore) AddReserved(proofs cashu.Proofs) error {
	return ps.CommitReserved(nil, nil, proofs)
}

func (ps *ProofStore) Remove(secrets []string) error {
	return ps.Commit(secrets, nil)
}

// Reserve marks the proofs as in use. It fails without reserving
// anything if a secret is unknown or already reserved.
func (ps *ProofStore) Reserve(secrets []string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	seen := make(map[string]bool, len(secrets))
	for _, secret := range secrets {
		if _, ok := ps.proofs[secret]; !ok {
			return fmt.Errorf("proof '%v' not found", secret)
		}
		if ps.reserved[secret] || seen[secret] {
			return fmt.Errorf("proof '%v' is already reserved", secret)
		}
		seen[secret] = true
	}

	for _, secret := range secrets {
		ps.reserved[secret] = true
	}
	return nil
}

func (ps *ProofStore) Release(secrets []string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, secret := range secrets {
		delete(ps.reserved, secret)
	}
}

// Commit removes the consumed proofs and adds the new ones
// in a single db transaction.
func (ps *ProofStore) Commit(remove []string, add cashu.Proofs) error {
	return ps.CommitReserved(remove, add, nil)
}

// CommitReserved is Commit where the proofs in reserved are
// also added but stay reserved.
func (ps *ProofStore) CommitReserved(remove []string, add, reserved cashu.Proofs) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	all := make(cashu.Proofs, 0, len(add)+len(reserved))
	all = append(append(all, add...), reserved...)
	if len(remove) == 0 && len(all) == 0 {
		return nil
	}
	if err := ps.commit(remove, all); err != nil {
		return err
	}
	for _, proof := range reserved {
		ps.reserved[proof.Secret] = true
	}
	return nil
}

func (ps *ProofStore) commit(remove []string, add cashu.Proofs) error {
	for _, secret := range remove {
		if _, ok := ps.proofs[secret]; !ok {
			return fmt.Errorf("proof '%v' not found", secret)
		}
	}
	for _, proof := range add {
		if _, ok := ps.proofs[proof.Secret]; ok {
			return fmt.Errorf("proof '%v' already in store", proof.Secret)
		}
	}
	if cashu.CheckDuplicateProofs(add) {
		return fmt.Errorf("duplicate proofs")
	}

	if err := ps.db.ReplaceProofs(ps.mintURL, remove, add); err != nil {
		return fmt.Errorf("error saving proofs: %v", err)
	}

	removed := make(map[string]bool, len(remove))
	for _, secret := range remove {
		removed[secret] = true
		delete(ps.proofs, secret)
		delete(ps.reserved, secret)
	}
	if len(removed) > 0 {
		ps.order = slices.DeleteFunc(ps.order, func(secret string) bool {
			return removed[secret]
		})
	}
	ps.insert(add)

	return nil
}

func (ps *ProofStore) insert(proofs cashu.Proofs) {
	for _, proof := range proofs {
		ps.proofs[proof.Secret] = proof
		ps.order = append(ps.order, proof.Secret)
	}
}

// Select chooses unreserved proofs for the amount. If there is one proof
// for every denomination of the amount those are used. Otherwise proofs
// are taken smallest first until the amount is covered, in which case
// the selection can be over the amount.
func (ps *ProofStore) Select(amount uint64) (cashu.Proofs, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if amount == 0 {
		return cashu.Proofs{}, nil
	}

	available := ps.unreserved()
	balance := available.Amount()
	if balance < amount {
		return nil, insufficientBalance("select proofs", ps.mintURL, amount, balance)
	}

	if exact, ok := selectExact(available, amount); ok {
		return exact, nil
	}

	slices.SortStableFunc(available, func(a, b cashu.Proof) int {
		switch {
		case a.Amount < b.Amount:
			return -1
		case a.Amount > b.Amount:
			return 1
		}
		return 0
	})

	selected := cashu.Proofs{}
	var selectedAmount uint64
	for _, proof := range available {
		selected = append(selected, proof)
		selectedAmount += proof.Amount
		if selectedAmount >= amount {
			break
		}
	}

	return selected, nil
}

func selectExact(available cashu.Proofs, amount uint64) (cashu.Proofs, bool) {
	used := make(map[string]bool)
	selected := cashu.Proofs{}

	for _, denomination := range cashu.AmountSplit(amount) {
		found := false
		for _, proof := range available {
			if proof.Amount == denomination && !used[proof.Secret] {
				used[proof.Secret] = true
				selected = append(selected, proof)
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}

	return selected, true
}
