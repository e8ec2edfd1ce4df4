package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/cashu/nuts/nut05"
	"github.com/elnosh/nutsack/wallet/storage"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

type MeltState int

const (
	MeltCreated MeltState = iota
	MeltReserved
	MeltSubmitted
	MeltPaid
	MeltFailed
)

func (state MeltState) String() string {
	switch state {
	case MeltCreated:
		return "CREATED"
	case MeltReserved:
		return "RESERVED"
	case MeltSubmitted:
		return "SUBMITTED"
	case MeltPaid:
		return "PAID"
	case MeltFailed:
		return "FAILED"
	default:
		return "unknown"
	}
}

type MeltResult struct {
	Paid     bool
	Preimage string
	// amount of the invoice
	Amount uint64
	// fee reserve minus the change returned
	Fee    uint64
	Change cashu.Proofs
	// set when the invoice was paid but the change could not be
	// stored, in which case Fee is the whole fee reserve
	ChangeErr error
}

// MeltSession pays a lightning invoice with proofs from the wallet.
type MeltSession struct {
	wallet  *Wallet
	mintURL string
	mint    *walletMint

	invoice     string
	paymentHash string
	amount      uint64
	feeReserve  uint64
	state       MeltState

	inputs cashu.Proofs
}

func (w *Wallet) NewMeltSession(mintURL, invoice string) (*MeltSession, error) {
	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return nil, fmt.Errorf("error decoding invoice: %v", err)
	}
	if bolt11.MSatoshi <= 0 {
		return nil, errors.New("invoice has no amount")
	}

	wm, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}

	// round up to the next sat
	amount := (uint64(bolt11.MSatoshi) + 999) / 1000

	return &MeltSession{
		wallet:      w,
		mintURL:     wm.proofs.mintURL,
		mint:        wm,
		invoice:     invoice,
		paymentHash: bolt11.PaymentHash,
		amount:      amount,
		state:       MeltCreated,
	}, nil
}

// Melt pays the invoice using proofs from the current mint.
func (w *Wallet) Melt(ctx context.Context, invoice string) (*MeltResult, error) {
	session, err := w.NewMeltSession(w.currentMint, invoice)
	if err != nil {
		return nil, err
	}
	return session.Run(ctx)
}

func (s *MeltSession) State() MeltState {
	return s.state
}

func (s *MeltSession) Amount() uint64 {
	return s.amount
}

func (s *MeltSession) Run(ctx context.Context) (*MeltResult, error) {
	if s.state != MeltCreated {
		return nil, fmt.Errorf("cannot run melt in state %v", s.state)
	}

	unlock := s.wallet.locks.Lock(s.mintURL)
	defer unlock()

	if invoice := s.mint.invoices.Get(s.paymentHash); invoice != nil && invoice.Status == storage.InvoicePaid {
		s.state = MeltFailed
		return nil, fmt.Errorf("invoice '%v' has already been paid", s.paymentHash)
	}

	// no request to the mint if the invoice alone is over the balance
	balance := s.mint.proofs.Balance()
	if balance < s.amount {
		s.state = MeltFailed
		return nil, insufficientBalance("melt", s.mintURL, s.amount, balance)
	}

	feesResponse, err := s.mint.client.CheckFees(ctx, nut05.CheckFeesRequest{PaymentRequest: s.invoice})
	if err != nil {
		s.state = MeltFailed
		return nil, err
	}
	s.feeReserve = feesResponse.Fee

	target, err := cashu.SumAmounts(s.amount, s.feeReserve)
	if err != nil {
		s.state = MeltFailed
		return nil, err
	}
	if balance < target {
		s.state = MeltFailed
		return nil, insufficientBalance("melt", s.mintURL, target, balance)
	}

	inputs, err := s.wallet.reserveExact(ctx, s.mint, s.mintURL, target)
	if err != nil {
		s.state = MeltFailed
		return nil, withOp("melt", err)
	}
	s.inputs = inputs
	s.state = MeltReserved

	keyset, err := s.wallet.keysets.Keyset(ctx, s.mintURL)
	if err != nil {
		return nil, s.abort(ctx, err)
	}
	blank, err := blankOutputs(s.mint.secrets, keyset.Id, s.feeReserve)
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	if err := s.recordInvoice(); err != nil {
		return nil, s.abort(ctx, err)
	}

	meltRequest := nut05.PostMeltRequest{
		Proofs:  inputs,
		Amount:  target,
		Invoice: s.invoice,
		Outputs: blank.messages,
	}

	s.state = MeltSubmitted
	meltResponse, err := s.mint.client.PostMelt(ctx, meltRequest)
	if err != nil {
		return nil, s.abort(ctx, err)
	}
	if !meltResponse.Paid {
		return nil, s.abort(ctx, protocolError("melt", s.mintURL, cashu.LightningPaymentFailed))
	}

	change := cashu.Proofs{}
	var changeErr error
	if changeAmount := meltResponse.Change.Amount(); changeAmount > s.feeReserve {
		changeErr = protocolErrorf("melt", s.mintURL, "change of %v is more than fee reserve %v",
			changeAmount, s.feeReserve)
	} else if len(meltResponse.Change) > 0 {
		change, changeErr = blank.unblindChange(ctx, s.wallet.keysets, s.mintURL, meltResponse.Change)
	}
	if changeErr != nil {
		s.wallet.logErrorf("invoice '%v' paid but change was not stored: %v", s.paymentHash, changeErr)
		change = cashu.Proofs{}
	}

	if err := s.mint.proofs.Commit(inputs.Secrets(), change); err != nil {
		s.wallet.logErrorf("invoice '%v' paid but could not update proofs: %v", s.paymentHash, err)
		return nil, err
	}

	fee := target - s.amount
	if changeAmount := change.Amount(); changeAmount < fee {
		fee -= changeAmount
	} else {
		fee = 0
	}

	s.state = MeltPaid
	if _, err := s.mint.invoices.Update(s.paymentHash, storage.InvoicePaid, func(invoice *Invoice) {
		invoice.Fee = fee
		invoice.Preimage = meltResponse.Preimage
	}); err != nil {
		s.wallet.logErrorf("could not mark invoice '%v' as paid: %v", s.paymentHash, err)
	}
	s.wallet.logInfof("paid invoice '%v' for %v with fee %v", s.paymentHash, s.amount, fee)

	return &MeltResult{
		Paid:      true,
		Preimage:  meltResponse.Preimage,
		Amount:    s.amount,
		Fee:       fee,
		Change:    change,
		ChangeErr: changeErr,
	}, nil
}

func (s *MeltSession) recordInvoice() error {
	if s.mint.invoices.Get(s.paymentHash) == nil {
		if _, err := s.mint.invoices.Record(s.paymentHash, s.invoice, s.amount, storage.InvoiceKindMelt); err != nil {
			return err
		}
	}

	_, err := s.mint.invoices.Transition(s.paymentHash, storage.InvoicePending)
	return err
}

// abort releases the inputs. If the outcome of the melt request is
// unknown, the mint is asked whether the inputs were spent and
// spent ones are removed.
func (s *MeltSession) abort(ctx context.Context, err error) error {
	s.mint.proofs.Release(s.inputs.Secrets())
	submitted := s.state == MeltSubmitted
	s.state = MeltFailed

	if invoice := s.mint.invoices.Get(s.paymentHash); invoice != nil && invoice.Status == storage.InvoicePending {
		if _, terr := s.mint.invoices.Transition(s.paymentHash, storage.InvoiceFailed); terr != nil {
			s.wallet.logErrorf("could not mark invoice '%v' as failed: %v", s.paymentHash, terr)
		}
	}

	code, _ := mintErrorCode(err)
	if submitted && (errors.Is(err, ErrNetwork) || code == cashu.ProofAlreadyUsedErrCode) {
		// the request may have been cancelled with ctx
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.wallet.config.HTTPTimeout)
		defer cancel()
		if removed, rerr := s.wallet.removeSpent(checkCtx, s.mint, s.inputs); rerr != nil {
			s.wallet.logErrorf("could not check state of melt inputs: %v", rerr)
		} else if removed > 0 {
			s.wallet.logInfof("removed %v spent by failed melt of invoice '%v'", removed, s.paymentHash)
		}
	}

	return withOp("melt", err)
}
