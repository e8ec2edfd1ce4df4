// Package fakemint is an in-memory mint that speaks the legacy
// mint API. It is used to test the wallet without a lightning node.
package fakemint

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/cashu/nuts/nut01"
	"github.com/elnosh/nutsack/cashu/nuts/nut03"
	"github.com/elnosh/nutsack/cashu/nuts/nut05"
	"github.com/elnosh/nutsack/cashu/nuts/nut06"
	"github.com/elnosh/nutsack/cashu/nuts/nut07"
	"github.com/elnosh/nutsack/crypto"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	derivationPath = "0/0/0/0"
	FakePreimage   = "0000000000000000000000000000000000000000000000000000000000000000"
)

var (
	OutputsAlreadySignedErr = cashu.Error{Detail: "outputs have already been signed before", Code: cashu.StandardErrCode}
	InvalidInvoiceErr       = cashu.Error{Detail: "invalid invoice", Code: cashu.LightningErrCode}
	AlreadyPaidErr          = cashu.Error{Detail: "invoice already paid", Code: cashu.LightningErrCode}
)

type Mint struct {
	mu   sync.Mutex
	seed string

	activeKeyset *crypto.MintKeyset
	// every keyset, including rotated ones
	keysets map[string]*crypto.MintKeyset

	// invoices to mint by payment hash
	invoices map[string]*Invoice
	// hashes of the invoices paid through melts
	paid map[string]bool

	spent map[string]bool
	// B_ of every output signed
	signed map[string]bool

	feeReserve uint64
	// fee the payment actually costs. The rest of the reserve is returned as change.
	feePaid uint64
	// added to the change of melts, more than what is owed
	extraChange  uint64
	paymentFails bool
	autoPay      bool
}

func NewMint(seed string) *Mint {
	keyset := crypto.GenerateKeyset(seed, derivationPath)
	return &Mint{
		seed:         seed,
		activeKeyset: keyset,
		keysets:      map[string]*crypto.MintKeyset{keyset.Id: keyset},
		invoices:     make(map[string]*Invoice),
		paid:         make(map[string]bool),
		spent:        make(map[string]bool),
		signed:       make(map[string]bool),
	}
}

// RotateKeyset replaces the active keyset with a new one.
// Proofs of previous keysets are still accepted.
func (m *Mint) RotateKeyset() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := derivationPath + "/" + strconv.Itoa(len(m.keysets))
	keyset := crypto.GenerateKeyset(m.seed, path)
	m.keysets[keyset.Id] = keyset
	m.activeKeyset = keyset
	return keyset.Id
}

func (m *Mint) KeysetId() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeKeyset.Id
}

// SetFees sets the fee reserve asked on /checkfees and
// the fee the payment ends up costing.
func (m *Mint) SetFees(feeReserve, feePaid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeReserve = feeReserve
	m.feePaid = feePaid
}

// SetExtraChange makes melts return amount more change than the inputs cover.
func (m *Mint) SetExtraChange(amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extraChange = amount
}

func (m *Mint) SetPaymentFails(fails bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentFails = fails
}

// SetAutoPay marks invoices as paid as soon as they are created.
func (m *Mint) SetAutoPay(autoPay bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoPay = autoPay
}

// PayInvoice settles the invoice to mint with the hash.
func (m *Mint) PayInvoice(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[hash]
	if !ok {
		return cashu.InvoiceNotExistErr
	}
	invoice.Paid = true
	return nil
}

func (m *Mint) IsSpent(secret string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent[secret]
}

func (m *Mint) Keys() nut01.KeysResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeKeyset.PublicKeys()
}

func (m *Mint) RequestMint(amount uint64) (*nut03.RequestMintResponse, error) {
	if amount == 0 {
		return nil, cashu.BuildCashuError("amount must be greater than zero", cashu.StandardErrCode)
	}

	invoice, err := NewInvoice(amount)
	if err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.LightningErrCode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	invoice.Paid = m.autoPay
	m.invoices[invoice.PaymentHash] = &invoice

	return &nut03.RequestMintResponse{PaymentRequest: invoice.PaymentRequest, Hash: invoice.PaymentHash}, nil
}

// MintTokens signs the outputs if the invoice with the hash has been paid.
func (m *Mint) MintTokens(hash string, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[hash]
	if !ok {
		return nil, cashu.InvoiceNotExistErr
	}
	if !invoice.Paid {
		return nil, cashu.InvoiceNotPaidErr
	}
	if invoice.Issued {
		return nil, cashu.InvoiceTokensIssuedErr
	}
	if outputs.Amount() > invoice.Amount {
		return nil, cashu.OutputsOverInvoiceErr
	}

	promises, err := m.signBlindedMessages(outputs)
	if err != nil {
		return nil, err
	}
	invoice.Issued = true

	return promises, nil
}

func (m *Mint) CheckFees(request string) (*nut05.CheckFeesResponse, error) {
	if _, err := decodepay.Decodepay(request); err != nil {
		return nil, InvalidInvoiceErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return &nut05.CheckFeesResponse{Fee: m.feeReserve}, nil
}

// Split signs the outputs and invalidates the proofs. The first outputs
// add up to the amount of the proofs minus the split amount and their
// promises are returned in fst.
func (m *Mint) Split(request nut06.PostSplitRequest) (*nut06.PostSplitResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	proofs := request.Proofs
	outputs := request.Outputs.BlindedMessages

	if len(proofs) == 0 {
		return nil, cashu.NoProofsProvided
	}
	proofsAmount := proofs.Amount()
	if request.Amount > proofsAmount {
		return nil, cashu.InvalidSplitAmount
	}
	if outputs.Amount() != proofsAmount {
		return nil, cashu.AmountsDoNotMatch
	}

	if err := m.verifyProofs(proofs); err != nil {
		return nil, err
	}

	fstAmounts := cashu.AmountSplit(proofsAmount - request.Amount)
	if len(fstAmounts) > len(outputs) {
		return nil, cashu.AmountsDoNotMatch
	}
	fstOutputs := outputs[:len(fstAmounts)]
	sndOutputs := outputs[len(fstAmounts):]
	if fstOutputs.Amount() != proofsAmount-request.Amount {
		return nil, cashu.AmountsDoNotMatch
	}

	if err := m.checkOutputs(outputs); err != nil {
		return nil, err
	}
	fst, err := m.signBlindedMessages(fstOutputs)
	if err != nil {
		return nil, err
	}
	snd, err := m.signBlindedMessages(sndOutputs)
	if err != nil {
		return nil, err
	}

	m.spend(proofs)
	return &nut06.PostSplitResponse{Fst: fst, Snd: snd}, nil
}

// Melt pays the invoice with the proofs. The fee reserve not used by
// the payment is returned as change in the blank outputs.
func (m *Mint) Melt(request nut05.PostMeltRequest) (*nut05.PostMeltResponse, error) {
	bolt11, err := decodepay.Decodepay(request.Invoice)
	if err != nil {
		return nil, InvalidInvoiceErr
	}
	invoiceAmount := (uint64(bolt11.MSatoshi) + 999) / 1000

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(request.Proofs) == 0 {
		return nil, cashu.NoProofsProvided
	}
	if err := m.verifyProofs(request.Proofs); err != nil {
		return nil, err
	}
	if m.paid[bolt11.PaymentHash] {
		return nil, AlreadyPaidErr
	}

	inputsAmount := request.Proofs.Amount()
	if inputsAmount < invoiceAmount+m.feeReserve {
		return nil, cashu.InsufficientProofsAmount
	}

	if m.paymentFails {
		return nil, cashu.LightningPaymentFailed
	}

	m.spend(request.Proofs)
	m.paid[bolt11.PaymentHash] = true

	response := &nut05.PostMeltResponse{Paid: true, Preimage: FakePreimage}

	var overpaid uint64
	if inputsAmount > invoiceAmount+m.feePaid {
		overpaid = inputsAmount - invoiceAmount - m.feePaid
	}
	overpaid += m.extraChange
	if overpaid > 0 && len(request.Outputs) > 0 {
		amounts := cashu.AmountSplit(overpaid)
		if len(amounts) > len(request.Outputs) {
			amounts = amounts[:len(request.Outputs)]
		}
		blank := make(cashu.BlindedMessages, len(amounts))
		for i, amount := range amounts {
			blank[i] = cashu.BlindedMessage{Amount: amount, B_: request.Outputs[i].B_}
		}
		change, err := m.signBlindedMessages(blank)
		if err != nil {
			return nil, err
		}
		response.Change = change
	}

	return response, nil
}

func (m *Mint) Check(request nut07.PostCheckRequest) *nut07.PostCheckResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	response := &nut07.PostCheckResponse{
		Spendable: make([]bool, len(request.Proofs)),
		Pending:   make([]bool, len(request.Proofs)),
	}
	for i, proof := range request.Proofs {
		response.Spendable[i] = !m.spent[proof.Secret]
	}
	return response
}

func (m *Mint) verifyProofs(proofs cashu.Proofs) error {
	if cashu.CheckDuplicateProofs(proofs) {
		return cashu.DuplicateProofs
	}

	for _, proof := range proofs {
		if m.spent[proof.Secret] {
			return cashu.ProofAlreadyUsedErr
		}

		keyset, ok := m.keysets[proof.Id]
		if !ok {
			return cashu.UnknownKeysetErr
		}
		key, ok := keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofErr
		}

		C, err := crypto.PublicKeyFromHex(proof.C)
		if err != nil {
			return cashu.InvalidProofErr
		}
		if !crypto.Verify([]byte(proof.Secret), key.PrivateKey, C) {
			return cashu.InvalidProofErr
		}
	}
	return nil
}

func (m *Mint) spend(proofs cashu.Proofs) {
	for _, proof := range proofs {
		m.spent[proof.Secret] = true
	}
}

func (m *Mint) checkOutputs(outputs cashu.BlindedMessages) error {
	seen := make(map[string]bool, len(outputs))
	for _, output := range outputs {
		if m.signed[output.B_] || seen[output.B_] {
			return OutputsAlreadySignedErr
		}
		seen[output.B_] = true
	}
	return nil
}

// signBlindedMessages signs the outputs with the active keyset.
func (m *Mint) signBlindedMessages(outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if err := m.checkOutputs(outputs); err != nil {
		return nil, err
	}

	promises := make(cashu.BlindedSignatures, len(outputs))
	for i, output := range outputs {
		key, ok := m.activeKeyset.Keys[output.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(output.B_)
		if err != nil {
			return nil, cashu.BuildCashuError(fmt.Sprintf("invalid B_: %v", err), cashu.StandardErrCode)
		}
		B_, err := btcec.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, key.PrivateKey)
		promises[i] = cashu.BlindedSignature{
			Amount: output.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     m.activeKeyset.Id,
		}
	}

	for _, output := range outputs {
		m.signed[output.B_] = true
	}
	return promises, nil
}

// IssueProofs creates valid proofs for the amount with random
// secrets, as if they had been minted by someone else.
func (m *Mint) IssueProofs(amount uint64) (cashu.Proofs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	amounts := cashu.AmountSplit(amount)
	proofs := make(cashu.Proofs, len(amounts))
	for i, amount := range amounts {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, err
		}
		secret := hex.EncodeToString(secretBytes)

		Y := crypto.HashToCurve([]byte(secret))
		C := crypto.SignBlindedMessage(Y, m.activeKeyset.Keys[amount].PrivateKey)
		proofs[i] = cashu.Proof{
			Amount: amount,
			Id:     m.activeKeyset.Id,
			Secret: secret,
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs, nil
}
