package wallet

import (
	"errors"
	"testing"

	"github.com/elnosh/nutsack/testutils/fakemint"
	"github.com/elnosh/nutsack/wallet/storage"
)

func newInvoice(t *testing.T, amount uint64) fakemint.Invoice {
	t.Helper()
	invoice, err := fakemint.NewInvoice(amount)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}
	return invoice
}

func TestMelt(t *testing.T) {
	tests := []struct {
		name            string
		feeReserve      uint64
		feePaid         uint64
		expectedFee     uint64
		expectedChange  uint64
		expectedBalance uint64
	}{
		{
			name:            "no fee",
			expectedBalance: 50,
		},
		{
			name:            "fee reserve returned",
			feeReserve:      2,
			expectedChange:  2,
			expectedBalance: 50,
		},
		{
			name:            "part of fee reserve used",
			feeReserve:      4,
			feePaid:         1,
			expectedFee:     1,
			expectedChange:  3,
			expectedBalance: 49,
		},
		{
			name:            "all fee reserve used",
			feeReserve:      3,
			feePaid:         3,
			expectedFee:     3,
			expectedBalance: 47,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := newTestMint(t)
			wallet := newTestWallet(t, server.URL())
			fundWallet(t, wallet, server, 100)
			server.Mint().SetFees(test.feeReserve, test.feePaid)

			invoice := newInvoice(t, 50)
			result, err := wallet.Melt(ctx, invoice.PaymentRequest)
			if err != nil {
				t.Fatalf("unexpected error paying invoice: %v", err)
			}

			if !result.Paid {
				t.Fatal("expected invoice to be paid")
			}
			if result.Preimage != fakemint.FakePreimage {
				t.Fatalf("expected preimage '%v' but got '%v'", fakemint.FakePreimage, result.Preimage)
			}
			if result.Amount != 50 {
				t.Fatalf("expected amount of '%v' but got '%v'", 50, result.Amount)
			}
			if result.Fee != test.expectedFee {
				t.Fatalf("expected fee of '%v' but got '%v'", test.expectedFee, result.Fee)
			}
			if result.ChangeErr != nil {
				t.Fatalf("unexpected error storing change: %v", result.ChangeErr)
			}
			if result.Change.Amount() != test.expectedChange {
				t.Fatalf("expected change of '%v' but got '%v'", test.expectedChange, result.Change.Amount())
			}
			if wallet.GetBalance() != test.expectedBalance {
				t.Fatalf("expected balance of '%v' but got '%v'", test.expectedBalance, wallet.GetBalance())
			}
			reserved, _ := wallet.ReservedBalance(wallet.CurrentMint())
			if reserved != 0 {
				t.Fatalf("expected reserved balance of '%v' but got '%v'", 0, reserved)
			}

			stored := wallet.db.GetInvoice(wallet.CurrentMint(), invoice.PaymentHash)
			if stored == nil {
				t.Fatal("expected melt invoice to be recorded")
			}
			if stored.Status != storage.InvoicePaid || stored.Kind != storage.InvoiceKindMelt {
				t.Fatalf("unexpected invoice record: %+v", stored)
			}
			if stored.Fee != test.expectedFee || stored.Preimage != fakemint.FakePreimage {
				t.Fatalf("unexpected invoice record: %+v", stored)
			}
		})
	}
}

func TestMeltInsufficientBalance(t *testing.T) {
	server := newTestMint(t)
	wallet := newTestWallet(t, server.URL())
	fundWallet(t, wallet, server, 40)
	server.Mint().SetFees(2, 0)

	// invoice alone is over the balance, the mint is not asked for anything
	requests := server.TotalRequests()
	_, err := wallet.Melt(ctx, newInvoice(t, 50).PaymentRequest)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected error '%v' but got '%v'", ErrInsufficientBalance, err)
	}
	if server.TotalRequests() != requests {
		t.Fatalf("expected no requests to mint but got %v", server.TotalRequests()-requests)
	}

	// invoice plus fee is over the balance
	_, err = wallet.Melt(ctx, newInvoice(t, 39).PaymentRequest)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected error '%v' but got '%v'", ErrInsufficientBalance, err)
	}
	if server.RequestCount("/melt") != 0 || server.RequestCount("/split") != 0 {
		t.Fatal("expected no melt or split requests")
	}
	if wallet.GetBalance() != 40 {
		t.Fatalf("expected balance of '%v' but got '%v'", 40, wallet.GetBalance())
	}
}

func TestMeltPaymentFailed(t *testing.T) {
	server := newTestMint(t)
	wallet := newTestWallet(t, server.URL())
	fundWallet(t, wallet, server, 64)
	server.Mint().SetPaymentFails(true)

	invoice := newInvoice(t, 32)
	session, err := wallet.NewMeltSession(wallet.CurrentMint(), invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("unexpected error creating melt session: %v", err)
	}
	_, err = session.Run(ctx)
	if !errors.Is(err, ErrMintProtocol) {
		t.Fatalf("expected error '%v' but got '%v'", ErrMintProtocol, err)
	}
	if session.State() != MeltFailed {
		t.Fatalf("expected state '%v' but got '%v'", MeltFailed, session.State())
	}

	// inputs were released
	if wallet.GetBalance() != 64 {
		t.Fatalf("expected balance of '%v' but got '%v'", 64, wallet.GetBalance())
	}
	reserved, _ := wallet.ReservedBalance(wallet.CurrentMint())
	if reserved != 0 {
		t.Fatalf("expected reserved balance of '%v' but got '%v'", 0, reserved)
	}
	stored := wallet.db.GetInvoice(wallet.CurrentMint(), invoice.PaymentHash)
	if stored == nil || stored.Status != storage.InvoiceFailed {
		t.Fatalf("expected failed invoice but got %+v", stored)
	}

	// paying the same invoice again
	server.Mint().SetPaymentFails(false)
	result, err := wallet.Melt(ctx, invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("unexpected error paying invoice: %v", err)
	}
	if !result.Paid || wallet.GetBalance() != 32 {
		t.Fatalf("expected balance of '%v' but got '%v'", 32, wallet.GetBalance())
	}

	if _, err := wallet.Melt(ctx, invoice.PaymentRequest); err == nil {
		t.Fatal("expected error paying invoice twice")
	}
	if wallet.GetBalance() != 32 {
		t.Fatalf("expected balance of '%v' but got '%v'", 32, wallet.GetBalance())
	}
}

func TestMeltResponseLost(t *testing.T) {
	server := newTestMint(t)
	wallet := newTestWallet(t, server.URL())
	fundWallet(t, wallet, server, 100)

	// mint pays but the response never gets to the wallet. The retry
	// is rejected because the inputs were spent by the first request.
	server.DropNext("/melt", 1)
	_, err := wallet.Melt(ctx, newInvoice(t, 50).PaymentRequest)
	if err == nil {
		t.Fatal("expected error but got nil")
	}
	if code, _ := mintErrorCode(err); code != 11001 {
		t.Fatalf("expected error code '%v' but got '%v'", 11001, code)
	}

	// spent inputs are no longer in the wallet
	if wallet.GetBalance() != 50 {
		t.Fatalf("expected balance of '%v' but got '%v'", 50, wallet.GetBalance())
	}
	reserved, _ := wallet.ReservedBalance(wallet.CurrentMint())
	if reserved != 0 {
		t.Fatalf("expected reserved balance of '%v' but got '%v'", 0, reserved)
	}
	if server.RequestCount("/check") != 1 {
		t.Fatalf("expected 1 check request but got %v", server.RequestCount("/check"))
	}
}

func TestNewMeltSessionErrors(t *testing.T) {
	server := newTestMint(t)
	wallet := newTestWallet(t, server.URL())

	if _, err := wallet.NewMeltSession(wallet.CurrentMint(), "lnbc1invalid"); err == nil {
		t.Fatal("expected error for invalid invoice")
	}

	// 1500 msat is paid with 2 sats
	invoice, err := fakemint.NewInvoiceMsat(1500)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}
	session, err := wallet.NewMeltSession(wallet.CurrentMint(), invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("unexpected error creating melt session: %v", err)
	}
	if session.Amount() != 2 {
		t.Fatalf("expected amount of '%v' but got '%v'", 2, session.Amount())
	}
}

func TestMeltChangeOverFeeReserve(t *testing.T) {
	server := newTestMint(t)
	wallet := newTestWallet(t, server.URL())
	fundWallet(t, wallet, server, 100)
	server.Mint().SetFees(2, 0)
	server.Mint().SetExtraChange(2)

	invoice := newInvoice(t, 50)
	result, err := wallet.Melt(ctx, invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("unexpected error paying invoice: %v", err)
	}

	// invoice is paid but the change is not stored
	if !result.Paid {
		t.Fatal("expected invoice to be paid")
	}
	if !errors.Is(result.ChangeErr, ErrMintProtocol) {
		t.Fatalf("expected error '%v' but got '%v'", ErrMintProtocol, result.ChangeErr)
	}
	if len(result.Change) != 0 {
		t.Fatalf("expected no change but got '%v'", amounts(result.Change))
	}
	if result.Fee != 2 {
		t.Fatalf("expected fee of '%v' but got '%v'", 2, result.Fee)
	}
	if wallet.GetBalance() != 48 {
		t.Fatalf("expected balance of '%v' but got '%v'", 48, wallet.GetBalance())
	}
	reserved, _ := wallet.ReservedBalance(wallet.CurrentMint())
	if reserved != 0 {
		t.Fatalf("expected reserved balance of '%v' but got '%v'", 0, reserved)
	}

	stored := wallet.db.GetInvoice(wallet.CurrentMint(), invoice.PaymentHash)
	if stored == nil || stored.Status != storage.InvoicePaid {
		t.Fatalf("unexpected invoice record: %+v", stored)
	}
}
