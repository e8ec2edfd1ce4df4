package wallet

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/elnosh/nutsack/wallet/storage"
)

type (
	Invoice       = storage.Invoice
	InvoiceStatus = storage.InvoiceStatus
)

// allowed status transitions of an invoice record
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	storage.InvoiceRequested: {storage.InvoicePending, storage.InvoiceExpired, storage.InvoiceFailed},
	storage.InvoicePending:   {storage.InvoicePaid, storage.InvoiceExpired, storage.InvoiceFailed},
	storage.InvoicePaid:      {storage.InvoiceMinted, storage.InvoiceFailed},
	// an expired mint invoice can be resumed if it got paid later
	storage.InvoiceExpired: {storage.InvoicePending},
	// a melt can be tried again after a failed payment
	storage.InvoiceFailed: {storage.InvoicePending},
}

// InvoiceLedger keeps the record of the invoices of a mint,
// both the ones requested to mint and the ones paid through melts.
type InvoiceLedger struct {
	mu      sync.Mutex
	mintURL string
	db      storage.WalletDB
}

func NewInvoiceLedger(db storage.WalletDB, mintURL string) *InvoiceLedger {
	return &InvoiceLedger{mintURL: mintURL, db: db}
}

// Record saves a new invoice with status requested.
func (l *InvoiceLedger) Record(hash, paymentRequest string, amount uint64, kind storage.InvoiceKind) (Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing := l.db.GetInvoice(l.mintURL, hash); existing != nil {
		return Invoice{}, fmt.Errorf("invoice with hash '%v' already exists", hash)
	}

	now := time.Now().UTC()
	invoice := Invoice{
		Hash:           hash,
		PaymentRequest: paymentRequest,
		Amount:         amount,
		Status:         storage.InvoiceRequested,
		Kind:           kind,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.db.SaveInvoice(l.mintURL, invoice); err != nil {
		return Invoice{}, fmt.Errorf("error saving invoice: %v", err)
	}
	return invoice, nil
}

// Transition moves the invoice to the status. Moving to the current
// status is a no-op.
func (l *InvoiceLedger) Transition(hash string, status InvoiceStatus) (Invoice, error) {
	return l.Update(hash, status, nil)
}

// Update is Transition that also lets the caller modify
// other fields of the record before it is saved.
func (l *InvoiceLedger) Update(hash string, status InvoiceStatus, modify func(*Invoice)) (Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	invoice := l.db.GetInvoice(l.mintURL, hash)
	if invoice == nil {
		return Invoice{}, fmt.Errorf("invoice with hash '%v' not found", hash)
	}

	if invoice.Status != status && !slices.Contains(invoiceTransitions[invoice.Status], status) {
		return Invoice{}, fmt.Errorf("invalid invoice transition from %v to %v", invoice.Status, status)
	}

	invoice.Status = status
	if modify != nil {
		modify(invoice)
	}
	invoice.UpdatedAt = time.Now().UTC()

	if err := l.db.SaveInvoice(l.mintURL, *invoice); err != nil {
		return Invoice{}, fmt.Errorf("error saving invoice: %v", err)
	}
	return *invoice, nil
}

func (l *InvoiceLedger) Get(hash string) *Invoice {
	return l.db.GetInvoice(l.mintURL, hash)
}

// List returns the invoices sorted by creation time.
func (l *InvoiceLedger) List() []Invoice {
	invoices := l.db.GetInvoices(l.mintURL)
	slices.SortFunc(invoices, func(a, b Invoice) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return invoices
}

// Pending returns the mint invoices that have not reached a final status.
func (l *InvoiceLedger) Pending() []Invoice {
	return slices.DeleteFunc(l.List(), func(invoice Invoice) bool {
		return invoice.Kind != storage.InvoiceKindMint || invoice.Status.Final()
	})
}
