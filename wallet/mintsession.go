package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/cashu/nuts/nut04"
	"github.com/elnosh/nutsack/wallet/storage"
	"github.com/lightningnetwork/lnd/ticker"
)

type MintState int

const (
	MintRequested MintState = iota
	MintPending
	MintPaid
	MintMinted
	MintExpired
	MintFailed
)

func (state MintState) String() string {
	switch state {
	case MintRequested:
		return "REQUESTED"
	case MintPending:
		return "PENDING"
	case MintPaid:
		return "PAID"
	case MintMinted:
		return "MINTED"
	case MintExpired:
		return "EXPIRED"
	case MintFailed:
		return "FAILED"
	default:
		return "unknown"
	}
}

// MintSession mints new proofs for an amount: it requests an invoice,
// waits for it to be paid and unblinds the promises of the mint.
// A session is not safe for concurrent use.
type MintSession struct {
	wallet  *Wallet
	mintURL string
	mint    *walletMint

	amount         uint64
	hash           string
	paymentRequest string
	state          MintState

	// created once and sent on every poll
	outputs  *outputSet
	promises cashu.BlindedSignatures
	proofs   cashu.Proofs

	// replaced in tests
	ticker ticker.Ticker
}

func (w *Wallet) NewMintSession(mintURL string, amount uint64) (*MintSession, error) {
	if amount == 0 {
		return nil, errors.New("amount to mint must be greater than zero")
	}

	wm, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}

	return &MintSession{
		wallet:  w,
		mintURL: wm.proofs.mintURL,
		mint:    wm,
		amount:  amount,
		state:   MintRequested,
	}, nil
}

// ResumeMintSession attaches a new session to an invoice requested
// earlier that has not been minted yet.
func (w *Wallet) ResumeMintSession(mintURL, hash string) (*MintSession, error) {
	wm, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}

	invoice := wm.invoices.Get(hash)
	if invoice == nil {
		return nil, fmt.Errorf("invoice with hash '%v' not found", hash)
	}
	if invoice.Kind != storage.InvoiceKindMint {
		return nil, fmt.Errorf("invoice '%v' was not requested to mint", hash)
	}
	switch invoice.Status {
	case storage.InvoiceMinted:
		return nil, fmt.Errorf("invoice '%v' has already been minted", hash)
	case storage.InvoiceFailed:
		return nil, fmt.Errorf("invoice '%v' failed", hash)
	case storage.InvoiceRequested, storage.InvoiceExpired:
		if _, err := wm.invoices.Transition(hash, storage.InvoicePending); err != nil {
			return nil, err
		}
	}

	return &MintSession{
		wallet:         w,
		mintURL:        wm.proofs.mintURL,
		mint:           wm,
		amount:         invoice.Amount,
		hash:           invoice.Hash,
		paymentRequest: invoice.PaymentRequest,
		state:          MintPending,
	}, nil
}

func (s *MintSession) State() MintState {
	return s.state
}

func (s *MintSession) Hash() string {
	return s.hash
}

func (s *MintSession) PaymentRequest() string {
	return s.paymentRequest
}

func (s *MintSession) Amount() uint64 {
	return s.amount
}

// Proofs returns the proofs minted by the session.
func (s *MintSession) Proofs() cashu.Proofs {
	return s.proofs
}

// Run goes through every step of the session that is left.
func (s *MintSession) Run(ctx context.Context) (cashu.Proofs, error) {
	if s.state == MintRequested {
		if _, err := s.Request(ctx); err != nil {
			return nil, err
		}
	}
	if err := s.WaitForPayment(ctx); err != nil {
		return nil, err
	}
	return s.Mint(ctx)
}

// Request asks the mint for an invoice for the amount.
func (s *MintSession) Request(ctx context.Context) (Invoice, error) {
	if s.state != MintRequested {
		return Invoice{}, fmt.Errorf("cannot request invoice in state %v", s.state)
	}

	// fail before asking for an invoice if the mint
	// cannot sign the denominations for the amount
	if _, err := s.prepareOutputs(ctx); err != nil {
		return Invoice{}, withOp("request mint", err)
	}

	mintResponse, err := s.mint.client.RequestMint(ctx, s.amount)
	if err != nil {
		return Invoice{}, err
	}

	if _, err := s.mint.invoices.Record(mintResponse.Hash, mintResponse.PaymentRequest,
		s.amount, storage.InvoiceKindMint); err != nil {
		return Invoice{}, err
	}
	invoice, err := s.mint.invoices.Transition(mintResponse.Hash, storage.InvoicePending)
	if err != nil {
		return Invoice{}, err
	}

	s.hash = mintResponse.Hash
	s.paymentRequest = mintResponse.PaymentRequest
	s.state = MintPending
	s.wallet.logInfof("requested invoice '%v' to mint %v", s.hash, s.amount)

	return invoice, nil
}

// WaitForPayment polls the mint until the invoice is paid.
// If the poll timeout is reached or ctx is done, the session
// expires with an error of kind InvoiceExpired.
func (s *MintSession) WaitForPayment(ctx context.Context) error {
	switch s.state {
	case MintPaid, MintMinted:
		return nil
	case MintPending:
	default:
		return fmt.Errorf("cannot wait for payment in state %v", s.state)
	}

	outputs, err := s.prepareOutputs(ctx)
	if err != nil {
		return withOp("mint", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.wallet.config.PollTimeout)
	defer cancel()

	pollTicker := s.ticker
	if pollTicker == nil {
		pollTicker = ticker.New(s.wallet.config.PollInterval)
	}
	pollTicker.Resume()
	defer pollTicker.Stop()

	for {
		paid, err := s.poll(ctx, outputs)
		if err != nil {
			s.fail()
			return err
		}
		if paid {
			return nil
		}

		select {
		case <-pollTicker.Ticks():
		case <-ctx.Done():
			s.expire()
			return &Error{
				Kind: KindInvoiceExpired,
				Op:   "mint",
				Mint: s.mintURL,
				Err:  fmt.Errorf("invoice '%v' not paid: %v", s.hash, ctx.Err()),
			}
		}
	}
}

// poll sends the outputs to the mint. The mint signs them
// only if the invoice has been paid.
func (s *MintSession) poll(ctx context.Context, outputs *outputSet) (bool, error) {
	mintRequest := nut04.PostMintRequest{Outputs: outputs.messages}
	mintResponse, err := s.mint.client.PostMint(ctx, s.hash, mintRequest)
	if err != nil {
		switch {
		case isInvoiceNotPaid(err):
			s.wallet.logDebugf("invoice '%v' not paid yet", s.hash)
			return false, nil
		case ctx.Err() != nil:
			return false, nil
		case IsRetryable(err):
			s.wallet.logErrorf("error polling mint for invoice '%v': %v", s.hash, err)
			return false, nil
		}
		return false, err
	}

	s.promises = mintResponse.Promises
	s.state = MintPaid
	if _, err := s.mint.invoices.Transition(s.hash, storage.InvoicePaid); err != nil {
		s.wallet.logErrorf("could not mark invoice '%v' as paid: %v", s.hash, err)
	}
	s.wallet.logInfof("invoice '%v' paid", s.hash)

	return true, nil
}

// Mint unblinds the promises from the mint and stores the proofs.
func (s *MintSession) Mint(ctx context.Context) (cashu.Proofs, error) {
	switch s.state {
	case MintMinted:
		return s.proofs, nil
	case MintPaid:
	default:
		return nil, fmt.Errorf("cannot mint in state %v", s.state)
	}

	proofs, err := s.outputs.unblind(ctx, s.wallet.keysets, s.mintURL, s.promises)
	if err != nil {
		if errors.Is(err, ErrMintProtocol) {
			s.fail()
		}
		return nil, withOp("mint", err)
	}

	if err := s.mint.proofs.Add(proofs); err != nil {
		return nil, err
	}

	s.proofs = proofs
	s.state = MintMinted
	if _, err := s.mint.invoices.Transition(s.hash, storage.InvoiceMinted); err != nil {
		s.wallet.logErrorf("could not mark invoice '%v' as minted: %v", s.hash, err)
	}
	s.wallet.logInfof("minted %v from invoice '%v'", proofs.Amount(), s.hash)

	return proofs, nil
}

func (s *MintSession) prepareOutputs(ctx context.Context) (*outputSet, error) {
	if s.outputs != nil {
		return s.outputs, nil
	}

	keyset, err := s.wallet.keysets.Keyset(ctx, s.mintURL)
	if err != nil {
		return nil, err
	}
	outputs, err := outputsForAmount(s.mint.secrets, keyset, s.amount)
	if err != nil {
		return nil, err
	}

	s.outputs = outputs
	return outputs, nil
}

func (s *MintSession) fail() {
	s.state = MintFailed
	if len(s.hash) == 0 {
		return
	}
	if _, err := s.mint.invoices.Transition(s.hash, storage.InvoiceFailed); err != nil {
		s.wallet.logErrorf("could not mark invoice '%v' as failed: %v", s.hash, err)
	}
}

func (s *MintSession) expire() {
	s.state = MintExpired
	if _, err := s.mint.invoices.Transition(s.hash, storage.InvoiceExpired); err != nil {
		s.wallet.logErrorf("could not mark invoice '%v' as expired: %v", s.hash, err)
	}
}
