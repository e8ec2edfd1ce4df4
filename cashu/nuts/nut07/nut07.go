// Package nut07 contains structs as defined in [NUT-07]
// for checking whether proofs have been spent.
//
// [NUT-07]: https://github.com/cashubtc/nuts/blob/main/07.md
package nut07

import "errors"

type ProofSecret struct {
	Secret string `json:"secret"`
}

type PostCheckRequest struct {
	Proofs []ProofSecret `json:"proofs"`
}

type PostCheckResponse struct {
	Spendable []bool `json:"spendable"`
	Pending   []bool `json:"pending,omitempty"`
}

// Validate checks the response has one state per proof requested.
func (res PostCheckResponse) Validate(numProofs int) error {
	if len(res.Spendable) != numProofs {
		return errors.New("number of states does not match number of proofs")
	}
	if len(res.Pending) != 0 && len(res.Pending) != numProofs {
		return errors.New("number of pending states does not match number of proofs")
	}
	return nil
}
