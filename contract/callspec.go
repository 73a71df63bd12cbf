package contract

import (
	"time"

	"defihub/crypto"
	"defihub/xdr"
)

// Source identifies the account that will sign and pay for a call and the
// network the call is bound to.
type Source struct {
	Address           string
	NetworkPassphrase string
}

// CallSpec is a fully validated, immutable description of one contract
// invocation. It carries no network state.
type CallSpec struct {
	kind       Kind
	contract   crypto.Address
	method     string
	args       []xdr.ScVal
	source     crypto.Address
	passphrase string
	deadline   time.Time
	readOnly   bool
}

func (c CallSpec) Kind() Kind                 { return c.kind }
func (c CallSpec) ContractID() crypto.Address { return c.contract }
func (c CallSpec) Method() string             { return c.method }
func (c CallSpec) Source() crypto.Address     { return c.source }
func (c CallSpec) NetworkPassphrase() string  { return c.passphrase }
func (c CallSpec) ReadOnly() bool             { return c.readOnly }
func (c CallSpec) IsZero() bool               { return c.method == "" }

// Args returns a copy of the ordered arguments.
func (c CallSpec) Args() []xdr.ScVal {
	out := make([]xdr.ScVal, len(c.args))
	copy(out, c.args)
	return out
}

// Deadline reports the execution deadline embedded in swap calls.
func (c CallSpec) Deadline() (time.Time, bool) {
	return c.deadline, !c.deadline.IsZero()
}

// Invocation returns the host function the call encodes to.
func (c CallSpec) Invocation() xdr.InvokeContract {
	return xdr.InvokeContract{Contract: c.contract, Function: c.method, Args: c.Args()}
}

// Summary is a display form of a CallSpec.
type Summary struct {
	Kind     Kind     `json:"kind"`
	Contract string   `json:"contract"`
	Method   string   `json:"method"`
	Args     []string `json:"args"`
	Source   string   `json:"source"`
	Network  string   `json:"network"`
	Deadline int64    `json:"deadline,omitempty"`
	ReadOnly bool     `json:"readOnly,omitempty"`
}

func (c CallSpec) Summary() Summary {
	args := make([]string, 0, len(c.args))
	for _, arg := range c.args {
		args = append(args, arg.String())
	}
	s := Summary{
		Kind:     c.kind,
		Contract: c.contract.String(),
		Method:   c.method,
		Args:     args,
		Source:   c.source.String(),
		Network:  crypto.NetworkName(c.passphrase),
		ReadOnly: c.readOnly,
	}
	if !c.deadline.IsZero() {
		s.Deadline = c.deadline.Unix()
	}
	return s
}
