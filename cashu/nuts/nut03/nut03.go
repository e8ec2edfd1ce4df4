// Package nut03 contains structs as defined in [NUT-03]
// for requesting an invoice to mint tokens.
//
// [NUT-03]: https://github.com/cashubtc/nuts/blob/main/03.md
package nut03

// RequestMintResponse is the response of GET /mint?amount=N
type RequestMintResponse struct {
	PaymentRequest string `json:"pr"`
	Hash           string `json:"hash"`
}
