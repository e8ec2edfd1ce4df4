// Package nut04 contains structs as defined in [NUT-04]
// for minting tokens once an invoice has been paid.
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/elnosh/nutsack/cashu"
)

var errMissingPromises = errors.New("mint response has no promises")

type PostMintRequest struct {
	Outputs cashu.BlindedMessages `json:"blinded_messages"`
}

// PostMintResponse holds the promises returned by POST /mint.
// Nutshell mints before 0.9.0 reply with a bare array of promises.
// From 0.9.0 on, the legacy endpoint replies with an object that
// has a "promises" field. Both shapes are accepted.
type PostMintResponse struct {
	Promises cashu.BlindedSignatures `json:"promises"`
}

func (r *PostMintResponse) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var promises cashu.BlindedSignatures
		if err := json.Unmarshal(trimmed, &promises); err != nil {
			return err
		}
		r.Promises = promises
		return nil
	}

	var res struct {
		Promises *cashu.BlindedSignatures `json:"promises"`
	}
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return err
	}
	if res.Promises == nil {
		return errMissingPromises
	}
	r.Promises = *res.Promises
	return nil
}
