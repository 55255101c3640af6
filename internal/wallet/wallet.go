// Package wallet defines the contract wallet connectors (Freighter, LOBSTR,
// Ledger) satisfy. The connectors themselves live in the client.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"onboardr/pkg/errors"
)

// Network is a Stellar network
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Account is the result of a successful connection
type Account struct {
	Address string  `json:"address"`
	Network Network `json:"network"`
}

// Connector is implemented by every wallet
type Connector interface {
	ID() string
	Name() string
	IsAvailable(ctx context.Context) bool
	IsConnected(ctx context.Context) bool
	Connect(ctx context.Context) (Account, error)
	Disconnect(ctx context.Context) error
	Network(ctx context.Context) (Network, error)
	// Address returns "" when no account is connected
	Address(ctx context.Context) (string, error)
}

// Signer is implemented by connectors that can sign transactions
type Signer interface {
	SignTx(ctx context.Context, xdr string) (string, error)
}

// Error codes shared by all connectors
const (
	CodeUserRejected     = "USER_REJECTED"
	CodeNetworkMismatch  = "NETWORK_MISMATCH"
	CodeSessionExpired   = "WC_SESSION_EXPIRED"
	CodeNotInstalled     = "NOT_INSTALLED"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeSignFailed       = "SIGN_FAILED"
	CodeUnknown          = "UNKNOWN_ERROR"
)

// ErrUserRejected matches any Error with CodeUserRejected.
// User rejections are surfaced immediately and never retried.
var ErrUserRejected = errors.New("user rejected the request")

// Error is a connector failure
type Error struct {
	Connector string `json:"connector"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Connector, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrUserRejected) match rejections from any connector
func (e *Error) Is(target error) bool {
	return target == ErrUserRejected && e.Code == CodeUserRejected
}

// NewError builds a connector error. A cause mentioning a user rejection
// gets CodeUserRejected regardless of code.
func NewError(connector, code string, cause error) *Error {
	msg := code
	if cause != nil {
		msg = cause.Error()
		if strings.Contains(strings.ToLower(msg), "user rejected") {
			code = CodeUserRejected
		}
	}
	return &Error{Connector: connector, Code: code, Message: msg}
}

// Retryable reports whether a failed wallet action may be retried
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrUserRejected) {
		return false
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Code == CodeConnectionFailed || we.Code == CodeUnknown
	}
	return true
}

// Session is a WalletConnect-style pairing
type Session struct {
	Topic    string    `json:"topic"`
	Accounts []string  `json:"accounts"` // "stellar:pubnet:G..."
	Expiry   time.Time `json:"expiry"`   // zero means no expiry
}

// Active reports whether s exists and has not expired
func (s *Session) Active(now time.Time) bool {
	return s != nil && (s.Expiry.IsZero() || s.Expiry.After(now))
}

// Account parses the first session account
func (s *Session) Account() (Account, error) {
	if s == nil || len(s.Accounts) == 0 {
		return Account{}, errors.Wrap(errors.ErrNotFound, "no stellar accounts in session")
	}
	return ParseAccount(s.Accounts[0])
}

// ParseAccount parses "stellar:<chain>:<address>". pubnet maps to mainnet,
// every other chain to testnet.
func ParseAccount(s string) (Account, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != "stellar" || parts[2] == "" {
		return Account{}, errors.Wrapf(errors.ErrInvalidInput, "invalid account format %q", s)
	}

	network := Testnet
	if parts[1] == "pubnet" {
		network = Mainnet
	}
	return Account{Address: parts[2], Network: network}, nil
}

// Meta describes a connector for display
type Meta struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
}

// Describe lists connectors with their availability
func Describe(ctx context.Context, connectors []Connector) []Meta {
	out := make([]Meta, 0, len(connectors))
	for _, c := range connectors {
		out = append(out, Meta{ID: c.ID(), Name: c.Name(), Installed: c.IsAvailable(ctx)})
	}
	return out
}
