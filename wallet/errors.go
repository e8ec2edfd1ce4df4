package wallet

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindNetwork ErrorKind = iota + 1
	KindMintProtocol
	KindInsufficientBalance
	KindInvoiceExpired
)

var (
	ErrNetwork             = errors.New("network error")
	ErrMintProtocol        = errors.New("mint protocol error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvoiceExpired      = errors.New("invoice expired")
)

func (kind ErrorKind) sentinel() error {
	switch kind {
	case KindNetwork:
		return ErrNetwork
	case KindMintProtocol:
		return ErrMintProtocol
	case KindInsufficientBalance:
		return ErrInsufficientBalance
	case KindInvoiceExpired:
		return ErrInvoiceExpired
	}
	return nil
}

func (kind ErrorKind) String() string {
	if err := kind.sentinel(); err != nil {
		return err.Error()
	}
	return "unknown error"
}

// Error is returned by every wallet operation that talks to a mint
// or moves proofs. Match the kind with errors.Is against the sentinels.
type Error struct {
	Kind ErrorKind
	// operation that failed, e.g "split"
	Op   string
	Mint string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Retryable reports whether repeating the same request can succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork
}

// IsRetryable reports whether err is a wallet Error that can be retried.
func IsRetryable(err error) bool {
	var walletErr *Error
	if errors.As(err, &walletErr) {
		return walletErr.Retryable()
	}
	return false
}

func networkError(op, mint string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Mint: mint, Err: err}
}

func protocolError(op, mint string, err error) *Error {
	return &Error{Kind: KindMintProtocol, Op: op, Mint: mint, Err: err}
}

func protocolErrorf(op, mint, format string, args ...any) *Error {
	return protocolError(op, mint, fmt.Errorf(format, args...))
}

func insufficientBalance(op, mint string, needed, available uint64) *Error {
	return &Error{
		Kind: KindInsufficientBalance,
		Op:   op,
		Mint: mint,
		Err:  fmt.Errorf("need %v but have %v", needed, available),
	}
}

// withOp returns err with the operation set if it is a wallet Error
// that does not have one yet.
func withOp(op string, err error) error {
	var walletErr *Error
	if errors.As(err, &walletErr) && walletErr.Op == "" {
		copied := *walletErr
		copied.Op = op
		return &copied
	}
	return err
}
