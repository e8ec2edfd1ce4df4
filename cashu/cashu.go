// Package cashu contains the core structs and logic
// of the Cashu protocol.
package cashu

import (
	"encoding/hex"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type Unit int

const (
	Sat Unit = iota

	BOLT11_METHOD = "bolt11"
)

func (unit Unit) String() string {
	switch unit {
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

// Cashu BlindedMessage. See https://github.com/cashubtc/nuts/blob/main/00.md#blindedmessage
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	B_     string `json:"B_"`
}

func NewBlindedMessage(amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	return BlindedMessage{Amount: amount, B_: B_str}
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, msg := range bm {
		totalAmount += msg.Amount
	}
	return totalAmount
}

// Cashu BlindedSignature (promise). See https://github.com/cashubtc/nuts/blob/main/00.md#blindsignature
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
	Id     string `json:"id"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, sig := range bs {
		totalAmount += sig.Amount
	}
	return totalAmount
}

// Cashu Proof. See https://github.com/cashubtc/nuts/blob/main/00.md#proof
type Proof struct {
	Amount uint64 `json:"amount"`
	Id     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

type Proofs []Proof

// Amount returns the total amount from
// the array of Proof
func (proofs Proofs) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, proof := range proofs {
		totalAmount += proof.Amount
	}
	return totalAmount
}

// Secrets returns the secrets of the proofs in the same order.
func (proofs Proofs) Secrets() []string {
	secrets := make([]string, len(proofs))
	for i, proof := range proofs {
		secrets[i] = proof.Secret
	}
	return secrets
}

func CheckDuplicateProofs(proofs Proofs) bool {
	secrets := make(map[string]bool)

	for _, proof := range proofs {
		if secrets[proof.Secret] {
			return true
		}
		secrets[proof.Secret] = true
	}

	return false
}

type CashuErrCode int

// Error represents an error returned by the mint
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

// UnmarshalJSON accepts both the "detail" field and the
// "error" field used by older mints to carry the message.
func (e *Error) UnmarshalJSON(data []byte) error {
	var errRes struct {
		Detail string       `json:"detail"`
		Error  string       `json:"error"`
		Code   CashuErrCode `json:"code"`
	}
	if err := json.Unmarshal(data, &errRes); err != nil {
		return err
	}

	e.Detail = errRes.Detail
	if len(e.Detail) == 0 {
		e.Detail = errRes.Error
	}
	e.Code = errRes.Code
	return nil
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

// Common error codes
const (
	StandardErrCode CashuErrCode = 10000

	InvalidProofErrCode            CashuErrCode = 10003
	TransactionErrCode             CashuErrCode = 11000
	ProofAlreadyUsedErrCode        CashuErrCode = 11001
	InsufficientProofAmountErrCode CashuErrCode = 11002
	UnknownKeysetErrCode           CashuErrCode = 12001

	LightningErrCode              CashuErrCode = 20000
	InvoiceNotPaidErrCode         CashuErrCode = 20001
	InvoiceTokensIssuedErrCode    CashuErrCode = 20002
	InvoiceNotExistErrCode        CashuErrCode = 20003
	LightningPaymentFailedErrCode CashuErrCode = 20004
)

var (
	StandardErr                 = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	UnknownKeysetErr            = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	InvalidBlindedMessageAmount = Error{Detail: "invalid amount in blinded message", Code: StandardErrCode}
	AmountsDoNotMatch           = Error{Detail: "amounts do not match", Code: TransactionErrCode}
	InvalidSplitAmount          = Error{Detail: "split amount is greater than amount of proofs", Code: TransactionErrCode}
	InvoiceNotPaidErr           = Error{Detail: "Lightning invoice not paid yet.", Code: InvoiceNotPaidErrCode}
	InvoiceTokensIssuedErr      = Error{Detail: "tokens already issued for invoice", Code: InvoiceTokensIssuedErrCode}
	InvoiceNotExistErr          = Error{Detail: "invoice does not exist", Code: InvoiceNotExistErrCode}
	OutputsOverInvoiceErr       = Error{Detail: "sum of the output amounts is greater than invoice amount", Code: StandardErrCode}
	ProofAlreadyUsedErr         = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	InvalidProofErr             = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	NoProofsProvided            = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	DuplicateProofs             = Error{Detail: "duplicate proofs", Code: InvalidProofErrCode}
	InsufficientProofsAmount    = Error{
		Detail: "amount of input proofs is below amount needed for transaction",
		Code:   InsufficientProofAmountErrCode,
	}
	LightningPaymentFailed = Error{Detail: "lightning payment failed", Code: LightningPaymentFailedErrCode}
)
