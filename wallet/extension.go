// Package wallet manages the connection to an external signing wallet. Keys
// never enter this process: every signature is delegated to the Extension.
package wallet

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrExtensionNotFound = errors.New("wallet: extension not found")
	ErrAccessDenied      = errors.New("wallet: access denied")
	ErrSigningRejected   = errors.New("wallet: signing rejected")
	ErrNetworkMismatch   = errors.New("wallet: network mismatch")
	ErrNotConnected      = errors.New("wallet: session not connected")
)

// Network identifies the chain the wallet is currently pointed at.
type Network struct {
	Name       string `json:"network"`
	Passphrase string `json:"networkPassphrase"`
}

// SignOptions tells the wallet which network and account a signature is for.
type SignOptions struct {
	NetworkPassphrase string
	Address           string
}

// Extension is the capability surface of an external wallet.
type Extension interface {
	IsConnected(ctx context.Context) (bool, error)
	RequestAccess(ctx context.Context) (string, error)
	GetAddress(ctx context.Context) (string, error)
	GetNetwork(ctx context.Context) (Network, error)
	SignTransaction(ctx context.Context, envelope string, opts SignOptions) (string, error)
}

// FuncExtension adapts plain functions to the Extension interface. Nil
// functions behave like an extension that is installed but refuses.
type FuncExtension struct {
	IsConnectedFunc     func(ctx context.Context) (bool, error)
	RequestAccessFunc   func(ctx context.Context) (string, error)
	GetAddressFunc      func(ctx context.Context) (string, error)
	GetNetworkFunc      func(ctx context.Context) (Network, error)
	SignTransactionFunc func(ctx context.Context, envelope string, opts SignOptions) (string, error)
}

func (f FuncExtension) IsConnected(ctx context.Context) (bool, error) {
	if f.IsConnectedFunc == nil {
		return false, nil
	}
	return f.IsConnectedFunc(ctx)
}

func (f FuncExtension) RequestAccess(ctx context.Context) (string, error) {
	if f.RequestAccessFunc == nil {
		return "", ErrAccessDenied
	}
	return f.RequestAccessFunc(ctx)
}

func (f FuncExtension) GetAddress(ctx context.Context) (string, error) {
	if f.GetAddressFunc == nil {
		return "", ErrNotConnected
	}
	return f.GetAddressFunc(ctx)
}

func (f FuncExtension) GetNetwork(ctx context.Context) (Network, error) {
	if f.GetNetworkFunc == nil {
		return Network{}, ErrNotConnected
	}
	return f.GetNetworkFunc(ctx)
}

func (f FuncExtension) SignTransaction(ctx context.Context, envelope string, opts SignOptions) (string, error) {
	if f.SignTransactionFunc == nil {
		return "", ErrSigningRejected
	}
	return f.SignTransactionFunc(ctx, envelope, opts)
}

func normalizeNetwork(n Network) Network {
	return Network{
		Name:       strings.ToUpper(strings.TrimSpace(n.Name)),
		Passphrase: strings.TrimSpace(n.Passphrase),
	}
}
