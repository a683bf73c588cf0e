package deployer

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind classifies why a deployment failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindNetworkUnreachable
	KindInvalidCredential
	KindSubmissionRejected
	KindConfirmationTimeout
	KindTransactionReverted
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrConfiguration       = errors.New("popdeploy: invalid deployment configuration")
	ErrNetworkUnreachable  = errors.New("popdeploy: network unreachable")
	ErrInvalidCredential   = errors.New("popdeploy: invalid credential")
	ErrSubmissionRejected  = errors.New("popdeploy: submission rejected")
	ErrConfirmationTimeout = errors.New("popdeploy: confirmation timeout")
	ErrTransactionReverted = errors.New("popdeploy: transaction reverted")
)

var kindSentinels = map[Kind]error{
	KindConfiguration:       ErrConfiguration,
	KindNetworkUnreachable:  ErrNetworkUnreachable,
	KindInvalidCredential:   ErrInvalidCredential,
	KindSubmissionRejected:  ErrSubmissionRejected,
	KindConfirmationTimeout: ErrConfirmationTimeout,
	KindTransactionReverted: ErrTransactionReverted,
}

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindSubmissionRejected:
		return "submission_rejected"
	case KindConfirmationTimeout:
		return "confirmation_timeout"
	case KindTransactionReverted:
		return "transaction_reverted"
	default:
		return "unknown"
	}
}

// Error is a failed deployment.
type Error struct {
	Kind Kind
	// Op is the step that failed, e.g. "send transaction".
	Op string
	// TxHash is set once a transaction has been submitted.
	TxHash common.Hash
	Err    error
}

// NewError wraps err with a kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.TxHash != (common.Hash{}) {
		msg += fmt.Sprintf(" (tx %s)", e.TxHash.Hex())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
