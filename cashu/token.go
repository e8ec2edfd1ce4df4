package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	tokenV3Prefix = "cashuA"
	tokenV4Prefix = "cashuB"
)

var (
	ErrInvalidTokenV3 = errors.New("invalid V3 token")
	ErrInvalidTokenV4 = errors.New("invalid V4 token")
	ErrInvalidUnit    = errors.New("invalid unit")
	ErrEmptyToken     = errors.New("token has no proofs")
)

// Cashu token. See https://github.com/cashubtc/nuts/blob/main/00.md#token-format
type Token interface {
	Proofs() Proofs
	Mint() string
	Amount() uint64
	Serialize() (string, error)
}

func DecodeToken(tokenstr string) (Token, error) {
	tokenstr = strings.TrimSpace(tokenstr)
	if strings.HasPrefix(tokenstr, tokenV4Prefix) {
		token, err := DecodeTokenV4(tokenstr)
		if err != nil {
			return nil, fmt.Errorf("invalid token: %v", err)
		}
		return token, nil
	}

	token, err := DecodeTokenV3(tokenstr)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v", err)
	}
	return token, nil
}

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("error decoding token: %v", err)
		}
	}
	return data, nil
}

type TokenV3 struct {
	Token []TokenV3Proof `json:"token"`
	Unit  string         `json:"unit"`
	Memo  string         `json:"memo,omitempty"`
}

type TokenV3Proof struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

func NewTokenV3(proofs Proofs, mint string, unit Unit) (TokenV3, error) {
	if unit != Sat {
		return TokenV3{}, ErrInvalidUnit
	}
	if len(proofs) == 0 {
		return TokenV3{}, ErrEmptyToken
	}

	tokenProof := TokenV3Proof{Mint: mint, Proofs: proofs}
	return TokenV3{Token: []TokenV3Proof{tokenProof}, Unit: unit.String()}, nil
}

func DecodeTokenV3(tokenstr string) (*TokenV3, error) {
	if !strings.HasPrefix(tokenstr, tokenV3Prefix) {
		return nil, ErrInvalidTokenV3
	}

	tokenBytes, err := decodeBase64(tokenstr[len(tokenV3Prefix):])
	if err != nil {
		return nil, err
	}

	var token TokenV3
	if err := json.Unmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("error unmarshaling token: %v", err)
	}
	if len(token.Token) == 0 || len(token.Proofs()) == 0 {
		return nil, ErrEmptyToken
	}

	return &token, nil
}

func (t TokenV3) Proofs() Proofs {
	proofs := make(Proofs, 0)
	for _, tokenProof := range t.Token {
		proofs = append(proofs, tokenProof.Proofs...)
	}
	return proofs
}

func (t TokenV3) Mint() string {
	if len(t.Token) == 0 {
		return ""
	}
	return t.Token[0].Mint
}

func (t TokenV3) Amount() uint64 {
	return t.Proofs().Amount()
}

func (t TokenV3) Serialize() (string, error) {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return tokenV3Prefix + base64.URLEncoding.EncodeToString(jsonBytes), nil
}

type TokenV4 struct {
	TokenProofs []TokenV4Proof `json:"t"`
	Memo        string         `json:"d,omitempty"`
	MintURL     string         `json:"m"`
	Unit        string         `json:"u"`
}

type TokenV4Proof struct {
	Id     []byte    `json:"i"`
	Proofs []ProofV4 `json:"p"`
}

type ProofV4 struct {
	Amount uint64 `json:"a"`
	Secret string `json:"s"`
	C      []byte `json:"c"`
}

// NewTokenV4 groups the proofs by keyset id. Keyset ids from legacy
// mints are base64, so the id bytes are its decoding when it is not hex.
func NewTokenV4(proofs Proofs, mint string, unit Unit) (TokenV4, error) {
	if unit != Sat {
		return TokenV4{}, ErrInvalidUnit
	}
	if len(proofs) == 0 {
		return TokenV4{}, ErrEmptyToken
	}

	ids := make([]string, 0)
	proofsMap := make(map[string][]ProofV4)
	for _, proof := range proofs {
		C, err := hex.DecodeString(proof.C)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid C: %v", err)
		}
		if _, ok := proofsMap[proof.Id]; !ok {
			ids = append(ids, proof.Id)
		}
		proofsMap[proof.Id] = append(proofsMap[proof.Id], ProofV4{
			Amount: proof.Amount,
			Secret: proof.Secret,
			C:      C,
		})
	}

	tokenProofs := make([]TokenV4Proof, len(ids))
	for i, id := range ids {
		idBytes, err := keysetIdBytes(id)
		if err != nil {
			return TokenV4{}, err
		}
		tokenProofs[i] = TokenV4Proof{Id: idBytes, Proofs: proofsMap[id]}
	}

	return TokenV4{MintURL: mint, Unit: unit.String(), TokenProofs: tokenProofs}, nil
}

func keysetIdBytes(id string) ([]byte, error) {
	if b, err := hex.DecodeString(id); err == nil {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid keyset id '%v'", id)
	}
	return b, nil
}

func keysetIdString(id []byte) string {
	// legacy ids are 12 base64 chars, which decode to 9 bytes
	if len(id) == 9 {
		return base64.StdEncoding.EncodeToString(id)
	}
	return hex.EncodeToString(id)
}

func DecodeTokenV4(tokenstr string) (*TokenV4, error) {
	if !strings.HasPrefix(tokenstr, tokenV4Prefix) {
		return nil, ErrInvalidTokenV4
	}

	tokenBytes, err := decodeBase64(tokenstr[len(tokenV4Prefix):])
	if err != nil {
		return nil, err
	}

	var tokenV4 TokenV4
	if err := cbor.Unmarshal(tokenBytes, &tokenV4); err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}
	if len(tokenV4.Proofs()) == 0 {
		return nil, ErrEmptyToken
	}

	return &tokenV4, nil
}

func (t TokenV4) Proofs() Proofs {
	proofs := make(Proofs, 0)
	for _, tokenV4Proof := range t.TokenProofs {
		keysetId := keysetIdString(tokenV4Proof.Id)
		for _, proofV4 := range tokenV4Proof.Proofs {
			proofs = append(proofs, Proof{
				Id:     keysetId,
				Amount: proofV4.Amount,
				Secret: proofV4.Secret,
				C:      hex.EncodeToString(proofV4.C),
			})
		}
	}
	return proofs
}

func (t TokenV4) Mint() string {
	return t.MintURL
}

func (t TokenV4) Amount() uint64 {
	return t.Proofs().Amount()
}

func (t TokenV4) Serialize() (string, error) {
	cborData, err := cbor.Marshal(t)
	if err != nil {
		return "", err
	}

	return tokenV4Prefix + base64.RawURLEncoding.EncodeToString(cborData), nil
}
