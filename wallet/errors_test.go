package wallet

import (
	"errors"
	"fmt"
	"testing"

	"github.com/elnosh/nutsack/cashu"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err          error
		expectedKind error
		retryable    bool
		expectedMsg  string
	}{
		{
			err:          networkError("split", testMintURL, errors.New("connection refused")),
			expectedKind: ErrNetwork,
			retryable:    true,
			expectedMsg:  "split: network error: connection refused",
		},
		{
			err:          protocolError("melt", testMintURL, cashu.ProofAlreadyUsedErr),
			expectedKind: ErrMintProtocol,
			expectedMsg:  "melt: mint protocol error: proof already used",
		},
		{
			err:          insufficientBalance("send", testMintURL, 10, 5),
			expectedKind: ErrInsufficientBalance,
			expectedMsg:  "send: insufficient balance: need 10 but have 5",
		},
		{
			err:          &Error{Kind: KindInvoiceExpired},
			expectedKind: ErrInvoiceExpired,
			expectedMsg:  "invoice expired",
		},
	}

	for _, test := range tests {
		if !errors.Is(test.err, test.expectedKind) {
			t.Fatalf("expected error '%v' to be '%v'", test.err, test.expectedKind)
		}
		if IsRetryable(test.err) != test.retryable {
			t.Fatalf("expected retryable '%v' for '%v'", test.retryable, test.err)
		}
		if test.err.Error() != test.expectedMsg {
			t.Fatalf("expected message '%v' but got '%v'", test.expectedMsg, test.err.Error())
		}

		wrapped := fmt.Errorf("wrapped: %w", test.err)
		if !errors.Is(wrapped, test.expectedKind) {
			t.Fatalf("expected wrapped error '%v' to be '%v'", wrapped, test.expectedKind)
		}
	}

	if errors.Is(networkError("", "", nil), ErrMintProtocol) {
		t.Fatal("network error should not match mint protocol error")
	}
	if IsRetryable(errors.New("some error")) {
		t.Fatal("expected error to not be retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := protocolError("receive", testMintURL, cashu.ProofAlreadyUsedErr)

	var cashuErr cashu.Error
	if !errors.As(err, &cashuErr) {
		t.Fatalf("expected cashu error in '%v'", err)
	}
	if cashuErr.Code != cashu.ProofAlreadyUsedErrCode {
		t.Fatalf("expected code '%v' but got '%v'", cashu.ProofAlreadyUsedErrCode, cashuErr.Code)
	}
}

func TestWithOp(t *testing.T) {
	err := withOp("send", protocolError("", testMintURL, errors.New("bad")))
	var walletErr *Error
	if !errors.As(err, &walletErr) || walletErr.Op != "send" {
		t.Fatalf("expected op 'send' but got '%v'", err)
	}

	// op already set is kept
	err = withOp("receive", err)
	if !errors.As(err, &walletErr) || walletErr.Op != "send" {
		t.Fatalf("expected op 'send' but got '%v'", err)
	}

	plain := errors.New("plain error")
	if withOp("send", plain) != plain {
		t.Fatal("expected non wallet error to be returned as is")
	}
}
