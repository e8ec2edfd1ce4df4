package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/cashu/nuts/nut06"
)

type SplitState int

const (
	SplitPrepared SplitState = iota
	SplitReserved
	SplitSubmitted
	SplitCommitted
	SplitAborted
)

func (state SplitState) String() string {
	switch state {
	case SplitPrepared:
		return "PREPARED"
	case SplitReserved:
		return "RESERVED"
	case SplitSubmitted:
		return "SUBMITTED"
	case SplitCommitted:
		return "COMMITTED"
	case SplitAborted:
		return "ABORTED"
	default:
		return "unknown"
	}
}

// SplitSession swaps a set of input proofs for new proofs: one set
// for the amount to send and one for the rest (keep). If anything
// fails before the result is committed, the inputs are released and
// nothing is stored.
type SplitSession struct {
	wallet  *Wallet
	mintURL string
	mint    *walletMint

	inputs cashu.Proofs
	amount uint64
	// secrets of the inputs that are in the proof store
	owned []string
	state SplitState

	keep cashu.Proofs
	send cashu.Proofs
}

// NewSplitSession creates a split of proofs from the wallet. The send
// proofs returned by Run stay reserved until the caller passes them to
// RemoveProofs or ReleaseProofs.
func (w *Wallet) NewSplitSession(mintURL string, inputs cashu.Proofs, amount uint64) (*SplitSession, error) {
	wm, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}
	return w.newSplitSession(wm.proofs.mintURL, wm, inputs, amount, false)
}

// newSplitSession with foreign set accepts inputs that are not in the
// wallet, like the proofs of a token being received.
func (w *Wallet) newSplitSession(mintURL string, wm *walletMint, inputs cashu.Proofs,
	amount uint64, foreign bool) (*SplitSession, error) {

	if len(inputs) == 0 {
		return nil, cashu.NoProofsProvided
	}
	if cashu.CheckDuplicateProofs(inputs) {
		return nil, cashu.DuplicateProofs
	}
	total, err := cashu.SumAmounts(inputAmounts(inputs)...)
	if err != nil {
		return nil, err
	}
	if amount > total {
		return nil, fmt.Errorf("split amount %v is greater than amount of proofs %v", amount, total)
	}

	stored := make(map[string]bool)
	for _, proof := range wm.proofs.List() {
		stored[proof.Secret] = true
	}

	owned := []string{}
	for _, proof := range inputs {
		if stored[proof.Secret] {
			owned = append(owned, proof.Secret)
		} else if !foreign {
			return nil, fmt.Errorf("proof '%v' not found", proof.Secret)
		}
	}

	return &SplitSession{
		wallet:  w,
		mintURL: mintURL,
		mint:    wm,
		inputs:  inputs,
		amount:  amount,
		owned:   owned,
		state:   SplitPrepared,
	}, nil
}

func inputAmounts(proofs cashu.Proofs) []uint64 {
	amounts := make([]uint64, len(proofs))
	for i, proof := range proofs {
		amounts[i] = proof.Amount
	}
	return amounts
}

func (s *SplitSession) State() SplitState {
	return s.state
}

// Run does the split holding the lock of the mint.
func (s *SplitSession) Run(ctx context.Context) (keep, send cashu.Proofs, err error) {
	unlock := s.wallet.locks.Lock(s.mintURL)
	defer unlock()
	return s.run(ctx)
}

func (s *SplitSession) run(ctx context.Context) (cashu.Proofs, cashu.Proofs, error) {
	if s.state != SplitPrepared {
		return nil, nil, fmt.Errorf("cannot run split in state %v", s.state)
	}

	if err := s.mint.proofs.Reserve(s.owned); err != nil {
		s.state = SplitAborted
		return nil, nil, err
	}
	s.state = SplitReserved

	keyset, err := s.wallet.keysets.Keyset(ctx, s.mintURL)
	if err != nil {
		return nil, nil, s.abort(err)
	}

	keepAmount := s.inputs.Amount() - s.amount
	keepOutputs, err := outputsForAmount(s.mint.secrets, keyset, keepAmount)
	if err != nil {
		return nil, nil, s.abort(err)
	}
	sendOutputs, err := outputsForAmount(s.mint.secrets, keyset, s.amount)
	if err != nil {
		return nil, nil, s.abort(err)
	}

	splitRequest := nut06.PostSplitRequest{
		Amount:  s.amount,
		Proofs:  s.inputs,
		Outputs: nut06.SplitOutputs{BlindedMessages: keepOutputs.concat(sendOutputs).messages},
	}

	s.state = SplitSubmitted
	splitResponse, err := s.mint.client.PostSplit(ctx, splitRequest)
	if err != nil {
		return nil, nil, s.abort(err)
	}

	keep, err := keepOutputs.unblind(ctx, s.wallet.keysets, s.mintURL, splitResponse.Fst)
	if err != nil {
		return nil, nil, s.abort(err)
	}
	send, err := sendOutputs.unblind(ctx, s.wallet.keysets, s.mintURL, splitResponse.Snd)
	if err != nil {
		return nil, nil, s.abort(err)
	}

	if err := s.mint.proofs.CommitReserved(s.owned, keep, send); err != nil {
		s.wallet.logErrorf("mint '%v' accepted split but could not store result: %v", s.mintURL, err)
		return nil, nil, s.abort(err)
	}

	s.keep = keep
	s.send = send
	s.state = SplitCommitted
	s.wallet.logDebugf("split %v into keep %v and send %v", s.inputs.Amount(), keep.Amount(), send.Amount())

	return keep, send, nil
}

func (s *SplitSession) abort(err error) error {
	s.mint.proofs.Release(s.owned)
	s.state = SplitAborted

	if errors.Is(err, ErrMintProtocol) {
		s.wallet.logErrorf("split rejected by mint '%v': %v", s.mintURL, err)
	}
	return withOp("split", err)
}
