package storage

import (
	"errors"
	"time"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/crypto"
)

var ErrProofNotFound = errors.New("proof not found")

type InvoiceStatus int

const (
	InvoiceRequested InvoiceStatus = iota
	InvoicePending
	InvoicePaid
	InvoiceMinted
	InvoiceExpired
	InvoiceFailed
)

func (status InvoiceStatus) String() string {
	switch status {
	case InvoiceRequested:
		return "requested"
	case InvoicePending:
		return "pending"
	case InvoicePaid:
		return "paid"
	case InvoiceMinted:
		return "minted"
	case InvoiceExpired:
		return "expired"
	case InvoiceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Final reports whether no further transition can happen from the status.
func (status InvoiceStatus) Final() bool {
	return status == InvoiceMinted || status == InvoiceExpired || status == InvoiceFailed
}

type InvoiceKind int

const (
	// invoice the wallet asked the mint for to mint tokens
	InvoiceKindMint InvoiceKind = iota
	// invoice paid by the mint on behalf of the wallet
	InvoiceKindMelt
)

func (kind InvoiceKind) String() string {
	if kind == InvoiceKindMelt {
		return "melt"
	}
	return "mint"
}

type Invoice struct {
	Hash           string        `json:"hash"`
	PaymentRequest string        `json:"payment_request"`
	Amount         uint64        `json:"amount"`
	Fee            uint64        `json:"fee,omitempty"`
	Preimage       string        `json:"preimage,omitempty"`
	Status         InvoiceStatus `json:"status"`
	Kind           InvoiceKind   `json:"kind"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type WalletDB interface {
	SaveMnemonicSeed(string, []byte) error
	GetMnemonic() string
	GetSeed() []byte

	// GetProofs returns the proofs of a mint in the order they were saved.
	GetProofs(mintURL string) (cashu.Proofs, error)
	SaveProofs(mintURL string, proofs cashu.Proofs) error
	DeleteProofs(mintURL string, secrets []string) error
	// ReplaceProofs deletes and saves proofs in a single transaction.
	ReplaceProofs(mintURL string, remove []string, add cashu.Proofs) error

	SaveKeyset(*crypto.WalletKeyset) error
	GetKeysets(mintURL string) ([]crypto.WalletKeyset, error)
	// IncrementKeysetCounter advances the counter by num and
	// returns the value it had before.
	IncrementKeysetCounter(mintURL, keysetId string, num uint32) (uint32, error)
	GetKeysetCounter(mintURL, keysetId string) uint32

	SaveInvoice(mintURL string, invoice Invoice) error
	GetInvoice(mintURL, hash string) *Invoice
	GetInvoices(mintURL string) []Invoice

	Mints() []string
	Close() error
}
