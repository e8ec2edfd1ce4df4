// Package crypto implements the blind Diffie-Hellman key exchange
// used to mint and redeem ecash, and the keyset types built on it.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// HashToCurve maps a message to a point by hashing until
// 0x02 || sha256(msg) is a valid compressed point.
func HashToCurve(message []byte) *secp256k1.PublicKey {
	var point *secp256k1.PublicKey

	for point == nil || !point.IsOnCurve() {
		hash := sha256.Sum256(message)
		pkhash := append([]byte{0x02}, hash[:]...)
		point, _ = secp256k1.ParsePubKey(pkhash)
		message = hash[:]
	}
	return point
}

// B_ = Y + rG
func BlindMessage(secret []byte, r *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y := HashToCurve(secret)
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	return secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, C_Point, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)
	C_.AsJacobian(&C_Point)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	return secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
}

// k * HashToCurve(secret) == C
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y := HashToCurve(secret)
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// PublicKeyFromHex parses a hex encoded compressed point.
func PublicKeyFromHex(s string) (*secp256k1.PublicKey, error) {
	keyBytes, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid point hex: %v", err)
	}
	return secp256k1.ParsePubKey(keyBytes)
}
