package wallet

import (
	"errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/wallet/storage"
)

const testMintURL = "http://localhost:3338"

func newTestDB(t *testing.T) storage.WalletDB {
	t.Helper()
	db, err := storage.InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("error creating db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func testProofs(amounts ...uint64) cashu.Proofs {
	proofs := make(cashu.Proofs, len(amounts))
	for i, amount := range amounts {
		proofs[i] = cashu.Proof{
			Amount: amount,
			Id:     "I2yN+iRYfkzT",
			Secret: "secret" + strconv.Itoa(i) + "-" + strconv.FormatUint(amount, 10),
			C:      "02762f5e23574da3527af71a3b5ab4119eb06d2aede26773ceb94c0dd90bd595e3",
		}
	}
	return proofs
}

func TestProofStoreBalance(t *testing.T) {
	db := newTestDB(t)
	ps, err := LoadProofStore(db, testMintURL)
	if err != nil {
		t.Fatalf("unexpected error loading proof store: %v", err)
	}

	proofs := testProofs(1, 2, 4, 8)
	if err := ps.Add(proofs); err != nil {
		t.Fatalf("unexpected error adding proofs: %v", err)
	}
	if ps.Balance() != 15 {
		t.Fatalf("expected balance of '%v' but got '%v'", 15, ps.Balance())
	}

	if err := ps.Add(proofs[:1]); err == nil {
		t.Fatal("expected error adding proof twice")
	}

	if err := ps.Reserve([]string{proofs[3].Secret}); err != nil {
		t.Fatalf("unexpected error reserving proofs: %v", err)
	}
	if ps.Balance() != 7 || ps.ReservedBalance() != 8 {
		t.Fatalf("expected balance 7 and reserved 8 but got '%v' and '%v'", ps.Balance(), ps.ReservedBalance())
	}
	if len(ps.List()) != 4 || len(ps.Unreserved()) != 3 {
		t.Fatalf("expected 4 proofs with 3 unreserved but got '%v' and '%v'", len(ps.List()), len(ps.Unreserved()))
	}

	// reservations are not persisted
	reloaded, err := LoadProofStore(db, testMintURL)
	if err != nil {
		t.Fatalf("unexpected error loading proof store: %v", err)
	}
	if reloaded.Balance() != 15 {
		t.Fatalf("expected balance of '%v' but got '%v'", 15, reloaded.Balance())
	}
	if !reflect.DeepEqual(reloaded.List(), proofs) {
		t.Fatalf("expected proofs '%v' but got '%v'", proofs, reloaded.List())
	}
}

func TestProofStoreReserve(t *testing.T) {
	ps, _ := LoadProofStore(newTestDB(t), testMintURL)
	proofs := testProofs(1, 2, 4)
	ps.Add(proofs)

	if err := ps.Reserve([]string{proofs[0].Secret}); err != nil {
		t.Fatalf("unexpected error reserving proofs: %v", err)
	}

	tests := []struct {
		name    string
		secrets []string
	}{
		{"already reserved", []string{proofs[1].Secret, proofs[0].Secret}},
		{"unknown", []string{proofs[1].Secret, "unknown"}},
		{"repeated", []string{proofs[1].Secret, proofs[1].Secret}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := ps.Reserve(test.secrets); err == nil {
				t.Fatal("expected error but got nil")
			}
			// nothing was reserved
			if ps.ReservedBalance() != 1 {
				t.Fatalf("expected reserved balance of '%v' but got '%v'", 1, ps.ReservedBalance())
			}
		})
	}

	ps.Release([]string{proofs[0].Secret})
	if ps.ReservedBalance() != 0 || ps.Balance() != 7 {
		t.Fatalf("expected balance 7 and reserved 0 but got '%v' and '%v'", ps.Balance(), ps.ReservedBalance())
	}
}

func TestProofStoreCommit(t *testing.T) {
	db := newTestDB(t)
	ps, _ := LoadProofStore(db, testMintURL)
	proofs := testProofs(1, 2, 4)
	ps.Add(proofs)
	ps.Reserve([]string{proofs[1].Secret, proofs[2].Secret})

	change := testProofs(16, 32)
	send := testProofs(64, 128)
	for i := range change {
		change[i].Secret = "change" + change[i].Secret
		send[i].Secret = "send" + send[i].Secret
	}

	if err := ps.CommitReserved([]string{proofs[1].Secret, proofs[2].Secret}, change, send); err != nil {
		t.Fatalf("unexpected error committing: %v", err)
	}
	if ps.Balance() != 49 {
		t.Fatalf("expected balance of '%v' but got '%v'", 49, ps.Balance())
	}
	if ps.ReservedBalance() != 192 {
		t.Fatalf("expected reserved balance of '%v' but got '%v'", 192, ps.ReservedBalance())
	}

	// unknown proof to remove fails without changes
	if err := ps.Commit([]string{"unknown"}, testProofs(256)); err == nil {
		t.Fatal("expected error but got nil")
	}
	stored, _ := db.GetProofs(testMintURL)
	if cashu.Proofs(stored).Amount() != 241 {
		t.Fatalf("expected stored amount of '%v' but got '%v'", 241, cashu.Proofs(stored).Amount())
	}

	if err := ps.Remove(send.Secrets()); err != nil {
		t.Fatalf("unexpected error removing proofs: %v", err)
	}
	if ps.ReservedBalance() != 0 || ps.Balance() != 49 {
		t.Fatalf("expected balance 49 and reserved 0 but got '%v' and '%v'", ps.Balance(), ps.ReservedBalance())
	}
}

func TestProofStoreSelect(t *testing.T) {
	tests := []struct {
		name            string
		proofs          cashu.Proofs
		amount          uint64
		expectedAmounts []uint64
	}{
		{
			name:            "exact denominations",
			proofs:          testProofs(64, 4, 32, 1),
			amount:          36,
			expectedAmounts: []uint64{4, 32},
		},
		{
			name:            "smallest first",
			proofs:          testProofs(64, 4, 32),
			amount:          10,
			expectedAmounts: []uint64{4, 32},
		},
		{
			name:            "all proofs",
			proofs:          testProofs(64, 4, 32),
			amount:          100,
			expectedAmounts: []uint64{4, 32, 64},
		},
		{
			name:            "zero amount",
			proofs:          testProofs(8),
			amount:          0,
			expectedAmounts: []uint64{},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ps, _ := LoadProofStore(newTestDB(t), testMintURL)
			ps.Add(test.proofs)

			selected, err := ps.Select(test.amount)
			if err != nil {
				t.Fatalf("unexpected error selecting proofs: %v", err)
			}
			if !reflect.DeepEqual(amounts(selected), test.expectedAmounts) {
				t.Fatalf("expected amounts '%v' but got '%v'", test.expectedAmounts, amounts(selected))
			}
			// selecting does not reserve
			if ps.ReservedBalance() != 0 {
				t.Fatalf("expected reserved balance of '%v' but got '%v'", 0, ps.ReservedBalance())
			}
		})
	}

	ps, _ := LoadProofStore(newTestDB(t), testMintURL)
	proofs := testProofs(8, 16)
	ps.Add(proofs)
	ps.Reserve([]string{proofs[1].Secret})

	_, err := ps.Select(10)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected error '%v' but got '%v'", ErrInsufficientBalance, err)
	}
}
