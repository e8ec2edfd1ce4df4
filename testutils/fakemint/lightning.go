package fakemint

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Amount         uint64
	Paid           bool
	// promises were already given for it
	Issued bool
}

// NewInvoice creates a signet invoice for the amount in sats
// signed with a throwaway key.
func NewInvoice(amount uint64) (Invoice, error) {
	return newInvoice(lnwire.MilliSatoshi(amount * 1000))
}

// NewInvoiceMsat is NewInvoice with the amount in millisats.
func NewInvoiceMsat(amountMsat uint64) (Invoice, error) {
	return newInvoice(lnwire.MilliSatoshi(amountMsat))
}

func newInvoice(amount lnwire.MilliSatoshi) (Invoice, error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return Invoice{}, err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(amount),
		zpay32.Description("test"),
	)
	if err != nil {
		return Invoice{}, err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return Invoice{}, err
	}

	return Invoice{
		PaymentRequest: invoiceStr,
		PaymentHash:    hex.EncodeToString(paymentHash[:]),
		Preimage:       preimage,
		Amount:         uint64(amount.ToSatoshis()),
	}, nil
}
