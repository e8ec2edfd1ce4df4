// Package nut05 contains structs as defined in [NUT-05]
// for melting tokens to pay a lightning invoice.
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import "github.com/elnosh/nutsack/cashu"

type CheckFeesRequest struct {
	PaymentRequest string `json:"pr"`
}

type CheckFeesResponse struct {
	Fee uint64 `json:"fee"`
}

type PostMeltRequest struct {
	Proofs  cashu.Proofs          `json:"proofs"`
	Amount  uint64                `json:"amount"`
	Invoice string                `json:"invoice"`
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}

type PostMeltResponse struct {
	Paid     bool                    `json:"paid"`
	Preimage string                  `json:"preimage,omitempty"`
	Change   cashu.BlindedSignatures `json:"change,omitempty"`
}
