package wallet

import (
	"context"
	"encoding/hex"
	"math/bits"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/crypto"
)

// outputSet holds the blinded messages of one logical attempt along with
// the secrets and blinding factors needed to unblind the promises for them.
// It is built once and reused as-is if the request has to be sent again.
type outputSet struct {
	messages cashu.BlindedMessages
	secrets  []string
	rs       []*secp256k1.PrivateKey
}

func newOutputSet(gen SecretGenerator, keysetId string, amounts []uint64) (*outputSet, error) {
	secrets, rs, err := gen.Generate(keysetId, len(amounts))
	if err != nil {
		return nil, err
	}

	messages := make(cashu.BlindedMessages, len(amounts))
	for i, amount := range amounts {
		B_ := crypto.BlindMessage([]byte(secrets[i]), rs[i])
		messages[i] = cashu.NewBlindedMessage(amount, B_)
	}

	return &outputSet{messages: messages, secrets: secrets, rs: rs}, nil
}

// outputsForAmount splits the amount into the denominations of the keyset.
func outputsForAmount(gen SecretGenerator, keyset *crypto.WalletKeyset, amount uint64) (*outputSet, error) {
	amounts, err := cashu.AmountSplitForKeys(amount, keyset.PublicKeys)
	if err != nil {
		return nil, err
	}
	return newOutputSet(gen, keyset.Id, amounts)
}

// blankOutputs creates outputs with amount 0 for the mint to
// return the unused fee reserve of a melt.
func blankOutputs(gen SecretGenerator, keysetId string, feeReserve uint64) (*outputSet, error) {
	return newOutputSet(gen, keysetId, make([]uint64, numBlankOutputs(feeReserve)))
}

// max(1, ceil(log2(feeReserve)))
func numBlankOutputs(feeReserve uint64) int {
	if feeReserve <= 1 {
		return 1
	}
	return bits.Len64(feeReserve - 1)
}

func (o *outputSet) concat(other *outputSet) *outputSet {
	combined := &outputSet{
		messages: make(cashu.BlindedMessages, 0, len(o.messages)+len(other.messages)),
		secrets:  make([]string, 0, len(o.secrets)+len(other.secrets)),
		rs:       make([]*secp256k1.PrivateKey, 0, len(o.rs)+len(other.rs)),
	}
	combined.messages = append(append(combined.messages, o.messages...), other.messages...)
	combined.secrets = append(append(combined.secrets, o.secrets...), other.secrets...)
	combined.rs = append(append(combined.rs, o.rs...), other.rs...)
	return combined
}

func (o *outputSet) amount() uint64 {
	return o.messages.Amount()
}

// unblind turns promises for these outputs into proofs. Promises
// must match the outputs one to one, in order and by amount.
func (o *outputSet) unblind(ctx context.Context, registry *KeysetRegistry, mintURL string,
	promises cashu.BlindedSignatures) (cashu.Proofs, error) {

	if len(promises) != len(o.messages) {
		return nil, protocolErrorf("unblind", mintURL, "expected %v promises but got %v",
			len(o.messages), len(promises))
	}
	for i, promise := range promises {
		if promise.Amount != o.messages[i].Amount {
			return nil, protocolErrorf("unblind", mintURL, "promise %v has amount %v but output was for %v",
				i, promise.Amount, o.messages[i].Amount)
		}
	}

	return constructProofs(ctx, registry, mintURL, promises, o.secrets, o.rs)
}

// unblindChange pairs the change promises of a melt with the blank
// outputs in order. The mint sets the amounts so they are not compared.
func (o *outputSet) unblindChange(ctx context.Context, registry *KeysetRegistry, mintURL string,
	promises cashu.BlindedSignatures) (cashu.Proofs, error) {

	if len(promises) > len(o.messages) {
		return nil, protocolErrorf("unblind", mintURL, "got %v change promises for %v blank outputs",
			len(promises), len(o.messages))
	}
	n := len(promises)
	return constructProofs(ctx, registry, mintURL, promises, o.secrets[:n], o.rs[:n])
}

func constructProofs(ctx context.Context, registry *KeysetRegistry, mintURL string,
	promises cashu.BlindedSignatures, secrets []string, rs []*secp256k1.PrivateKey) (cashu.Proofs, error) {

	proofs := make(cashu.Proofs, len(promises))
	for i, promise := range promises {
		if promise.Amount == 0 {
			return nil, protocolErrorf("unblind", mintURL, "promise %v has zero amount", i)
		}

		var keyset *crypto.WalletKeyset
		var err error
		if len(promise.Id) == 0 {
			keyset, err = registry.Keyset(ctx, mintURL)
		} else {
			keyset, err = registry.KeysetById(ctx, mintURL, promise.Id)
		}
		if err != nil {
			return nil, err
		}

		K, ok := keyset.PublicKeys[promise.Amount]
		if !ok {
			return nil, protocolErrorf("unblind", mintURL, "keyset '%v' has no key for amount %v",
				keyset.Id, promise.Amount)
		}

		C_, err := crypto.PublicKeyFromHex(promise.C_)
		if err != nil {
			return nil, protocolErrorf("unblind", mintURL, "invalid C_ in promise %v: %v", i, err)
		}

		C := crypto.UnblindSignature(C_, rs[i], K)
		proofs[i] = cashu.Proof{
			Amount: promise.Amount,
			Id:     keyset.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}

	return proofs, nil
}
