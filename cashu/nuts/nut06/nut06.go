// Package nut06 contains structs as defined in [NUT-06]
// for splitting a set of proofs into new ones.
//
// [NUT-06]: https://github.com/cashubtc/nuts/blob/main/06.md
package nut06

import "github.com/elnosh/nutsack/cashu"

type SplitOutputs struct {
	BlindedMessages cashu.BlindedMessages `json:"blinded_messages"`
}

// PostSplitRequest asks the mint to swap Proofs for new
// outputs. Outputs holds the "keep" outputs first followed
// by the outputs for Amount.
type PostSplitRequest struct {
	Amount  uint64       `json:"amount"`
	Proofs  cashu.Proofs `json:"proofs"`
	Outputs SplitOutputs `json:"outputs"`
}

// PostSplitResponse has the promises for the kept
// amount in Fst and the ones for Amount in Snd.
type PostSplitResponse struct {
	Fst cashu.BlindedSignatures `json:"fst"`
	Snd cashu.BlindedSignatures `json:"snd"`
}
