package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"defihub/cmd/internal/confirm"
	"defihub/config"
	"defihub/contract"
	"defihub/crypto"
	"defihub/failure"
	"defihub/hub"
	"defihub/journal"
	"defihub/lifecycle"
	"defihub/observability"
	"defihub/protocol"
	"defihub/wallet"
	"defihub/wallet/bridge"
)

const assumeYesEnv = "DEFIHUB_ASSUME_YES"

// pairsFlag collects repeated SYMBOL=amount flags.
type pairsFlag map[string]string

func (p pairsFlag) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, ",")
}

func (p pairsFlag) Set(value string) error {
	key, amount, ok := strings.Cut(value, "=")
	key, amount = strings.ToUpper(strings.TrimSpace(key)), strings.TrimSpace(amount)
	if !ok || key == "" || amount == "" {
		return fmt.Errorf("expected SYMBOL=amount, got %q", value)
	}
	p[key] = amount
	return nil
}

// bpsFlag is an optional basis-point value; unset leaves the configured default.
type bpsFlag struct {
	value *uint32
}

func (b *bpsFlag) String() string {
	if b == nil || b.value == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*b.value), 10)
}

func (b *bpsFlag) Set(raw string) error {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return fmt.Errorf("expected basis points, got %q", raw)
	}
	if n > protocol.BasisPoints {
		return fmt.Errorf("%d exceeds %d basis points", n, protocol.BasisPoints)
	}
	v := uint32(n)
	b.value = &v
	return nil
}

// parseArgs lets flags follow positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// withApp loads configuration, wires the app and runs fn with a signal-aware context.
func withApp(load configLoader, stderr io.Writer, fn func(ctx context.Context, a *app) error) int {
	cfg, err := load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close(context.Background())
	if err := fn(ctx, a); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// exitCode is 3 when the ledger outcome is unknown and must be checked with status.
func exitCode(err error) int {
	if failure.KindOf(err).OutcomeUnknown() {
		return 3
	}
	return 1
}

func printJSON(w io.Writer, v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(pretty))
	return err
}

func runAssets(args []string, load configLoader, stdout, stderr io.Writer) int {
	if err := newFlagSet("assets", stderr).Parse(args); err != nil {
		return 2
	}
	return withApp(load, stderr, func(_ context.Context, a *app) error {
		type row struct {
			Symbol   string `json:"symbol"`
			Decimals uint8  `json:"decimals"`
			Factor   uint32 `json:"collateralFactorBps"`
			Contract string `json:"contract"`
		}
		var out []row
		for _, desc := range a.registry.All() {
			addr, err := desc.ContractAddress(a.cfg.Network.Passphrase)
			if err != nil {
				return err
			}
			out = append(out, row{Symbol: desc.Symbol, Decimals: desc.Decimals, Factor: desc.CollateralFactorBps, Contract: addr.String()})
		}
		return printJSON(stdout, out)
	})
}

func runQuote(args []string, load configLoader, stdout, stderr io.Writer) int {
	fs := newFlagSet("quote", stderr)
	var slippage bpsFlag
	fs.Var(&slippage, "slippage", "slippage tolerance in basis points (default from config)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return 2
	}
	if len(positional) != 3 {
		fmt.Fprintln(stderr, "Usage: defihub quote <from> <to> <amount> [--slippage bps]")
		return 2
	}
	return withApp(load, stderr, func(ctx context.Context, a *app) error {
		q, err := a.hub.Quote(ctx, hub.QuoteRequest{
			From:        positional[0],
			To:          positional[1],
			Amount:      positional[2],
			SlippageBps: slippage.value,
		})
		if err != nil {
			return err
		}
		return printJSON(stdout, q)
	})
}

func runHealth(args []string, load configLoader, stdout, stderr io.Writer) int {
	fs := newFlagSet("health", stderr)
	supplied, borrowed := pairsFlag{}, pairsFlag{}
	fs.Var(supplied, "supply", "supplied SYMBOL=amount (repeatable)")
	fs.Var(borrowed, "borrow", "borrowed SYMBOL=amount (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return withApp(load, stderr, func(ctx context.Context, a *app) error {
		health, val, err := a.hub.HealthFactor(ctx, hub.HealthInput{Supplied: supplied, Borrowed: borrowed})
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]any{
			"healthFactor":       health,
			"liquidatable":       health.Liquidatable(),
			"belowMinimum":       health.Below(a.hub.Config().MinHealth),
			"collateralValue":    val.Collateral,
			"weightedCollateral": val.WeightedCollateral,
			"debtValue":          val.Debt,
			"borrowCapacity":     val.BorrowCapacity(),
		})
	})
}

type intent struct {
	kind     contract.Kind
	from, to string
	asset    string
	amount   string
	slippage *uint32
	force    bool
}

func parseIntent(kind contract.Kind, positional []string) (intent, error) {
	in := intent{kind: kind}
	switch kind {
	case contract.KindSwap:
		if len(positional) != 3 {
			return in, errors.New("expected <from> <to> <amount>")
		}
		in.from, in.to, in.amount = positional[0], positional[1], positional[2]
	case contract.KindSupply, contract.KindBorrow:
		if len(positional) != 2 {
			return in, errors.New("expected <asset> <amount>")
		}
		in.asset, in.amount = positional[0], positional[1]
	case contract.KindStake, contract.KindUnstake:
		if len(positional) != 1 {
			return in, errors.New("expected <amount>")
		}
		in.amount = positional[0]
	default:
		return in, fmt.Errorf("%w: %q", contract.ErrUnknownOp, kind)
	}
	return in, nil
}

type preview struct {
	Call  contract.Summary `json:"call"`
	Quote *hub.SwapQuote   `json:"quote,omitempty"`
}

func (in intent) preview(ctx context.Context, h *hub.Hub, src contract.Source) (preview, error) {
	if in.kind == contract.KindSwap {
		q, spec, err := h.PlanSwap(ctx, hub.QuoteRequest{From: in.from, To: in.to, Amount: in.amount, SlippageBps: in.slippage}, src)
		if err != nil {
			return preview{}, err
		}
		return preview{Call: spec.Summary(), Quote: &q}, nil
	}
	spec, err := h.Build(in.kind, hub.AmountRequest{Asset: in.asset, Amount: in.amount}, src)
	if err != nil {
		return preview{}, err
	}
	return preview{Call: spec.Summary()}, nil
}

func (in intent) execute(ctx context.Context, h *hub.Hub, session lifecycle.Signer) (*lifecycle.Result, error) {
	switch in.kind {
	case contract.KindSwap:
		return h.Swap(ctx, session, hub.QuoteRequest{From: in.from, To: in.to, Amount: in.amount, SlippageBps: in.slippage})
	case contract.KindSupply:
		return h.Supply(ctx, session, hub.AmountRequest{Asset: in.asset, Amount: in.amount})
	case contract.KindBorrow:
		return h.Borrow(ctx, session, hub.AmountRequest{Asset: in.asset, Amount: in.amount, Force: in.force})
	case contract.KindStake:
		return h.Stake(ctx, session, in.amount)
	default:
		return h.Unstake(ctx, session, in.amount)
	}
}

func (in intent) describe(p preview) string {
	switch in.kind {
	case contract.KindSwap:
		return fmt.Sprintf("Swap %s %s for at least %s %s on %s?", p.Quote.AmountIn, p.Quote.From, p.Quote.MinAmountOut, p.Quote.To, p.Call.Network)
	case contract.KindSupply, contract.KindBorrow:
		return fmt.Sprintf("%s %s %s on %s?", capitalize(string(in.kind)), in.amount, strings.ToUpper(in.asset), p.Call.Network)
	default:
		return fmt.Sprintf("%s %s on %s?", capitalize(string(in.kind)), in.amount, p.Call.Network)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func runBuild(args []string, load configLoader, stdout, stderr io.Writer) int {
	fs := newFlagSet("build", stderr)
	source := fs.String("source", "", "account that would sign the call")
	var slippage bpsFlag
	fs.Var(&slippage, "slippage", "swap slippage tolerance in basis points (default from config)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return 2
	}
	if len(positional) == 0 {
		fmt.Fprintln(stderr, "Usage: defihub build <swap|supply|borrow|stake|unstake> ... --source G...")
		return 2
	}
	in, err := parseIntent(contract.Kind(strings.ToLower(positional[0])), positional[1:])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	in.slippage = slippage.value
	if _, err := crypto.DecodeAccount(strings.TrimSpace(*source)); err != nil {
		fmt.Fprintf(stderr, "Error: --source: %v\n", err)
		return 2
	}
	return withApp(load, stderr, func(ctx context.Context, a *app) error {
		p, err := in.preview(ctx, a.hub, contract.Source{Address: strings.TrimSpace(*source), NetworkPassphrase: a.cfg.Network.Passphrase})
		if err != nil {
			return err
		}
		return printJSON(stdout, p)
	})
}

func runExecute(command string, args []string, load configLoader, stdout, stderr io.Writer) int {
	fs := newFlagSet(command, stderr)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	var slippage bpsFlag
	fs.Var(&slippage, "slippage", "swap slippage tolerance in basis points (default from config)")
	force := fs.Bool("force", false, "borrow even when the projected health factor is under the minimum")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return 2
	}
	in, err := parseIntent(contract.Kind(command), positional)
	if err != nil {
		fmt.Fprintf(stderr, "Usage: defihub %s: %v\n", command, err)
		return 2
	}
	in.slippage = slippage.value
	in.force = *force
	return withApp(load, stderr, func(ctx context.Context, a *app) error {
		session, err := connectWallet(ctx, a)
		if err != nil {
			return err
		}
		defer session.Disconnect()
		snap := session.Snapshot()
		p, err := in.preview(ctx, a.hub, contract.Source{Address: snap.Address, NetworkPassphrase: snap.NetworkPassphrase})
		if err != nil {
			return err
		}
		if !*yes {
			if err := printJSON(stderr, p); err != nil {
				return err
			}
			ok, err := confirm.New(assumeYesEnv).Confirm(in.describe(p))
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted")
			}
		}
		res, err := in.execute(ctx, a.hub, session)
		if res != nil {
			if printErr := printJSON(stdout, res); printErr != nil {
				return printErr
			}
		}
		return err
	})
}

func connectWallet(ctx context.Context, a *app) (*wallet.Session, error) {
	ext := bridge.New(bridge.Config{
		URL:     a.cfg.Wallet.BridgeURL,
		Origin:  a.cfg.Wallet.Origin,
		Timeout: a.cfg.Wallet.Timeout,
	})
	return wallet.Connect(ctx, ext,
		wallet.WithWatchInterval(a.cfg.Wallet.WatchInterval),
		wallet.WithLogger(a.logger),
		wallet.WithMetrics(observability.Wallet()))
}

func runPosition(args []string, load configLoader, stdout, stderr io.Writer) int {
	positional, err := parseArgs(newFlagSet("position", stderr), args)
	if err != nil {
		return 2
	}
	if len(positional) > 1 {
		fmt.Fprintln(stderr, "Usage: defihub position [account]")
		return 2
	}
	return withApp(load, stderr, func(ctx context.Context, a *app) error {
		src := contract.Source{NetworkPassphrase: a.cfg.Network.Passphrase}
		if len(positional) == 1 {
			src.Address = strings.TrimSpace(positional[0])
		} else {
			session, err := connectWallet(ctx, a)
			if err != nil {
				return err
			}
			snap := session.Snapshot()
			session.Disconnect()
			src.Address = snap.Address
		}
		report, err := a.hub.Position(ctx, src)
		if err != nil {
			return err
		}
		return printJSON(stdout, report)
	})
}

func runStatus(args []string, load configLoader, stdout, stderr io.Writer) int {
	positional, err := parseArgs(newFlagSet("status", stderr), args)
	if err != nil {
		return 2
	}
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "Usage: defihub status <hash>")
		return 2
	}
	return withApp(load, stderr, func(ctx context.Context, a *app) error {
		status, err := a.hub.Status(ctx, strings.ToLower(strings.TrimSpace(positional[0])))
		if err != nil {
			return err
		}
		return printJSON(stdout, status)
	})
}

func runJournal(args []string, load configLoader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: defihub journal <list|reconcile> ...")
		return 2
	}
	fs := newFlagSet("journal "+args[0], stderr)
	source := fs.String("source", "", "only list calls signed by this account")
	limit := fs.Int("limit", 50, "maximum number of entries")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	sub := strings.ToLower(args[0])
	if sub != "list" && sub != "reconcile" {
		fmt.Fprintf(stderr, "Unknown journal subcommand %q\n", args[0])
		return 2
	}
	return withApp(load, stderr, func(ctx context.Context, a *app) error {
		if a.journal == nil {
			return errors.New("journal.path is not configured")
		}
		if sub == "list" {
			entries, err := a.journal.List(ctx, *source, *limit)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []journal.Entry{}
			}
			return printJSON(stdout, entries)
		}
		resolved, err := reconcile(ctx, a.hub, a.journal)
		if printErr := printJSON(stdout, map[string]int{"resolved": resolved}); printErr != nil {
			return printErr
		}
		return err
	})
}

func runConfig(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 || strings.ToLower(args[0]) != "init" {
		fmt.Fprintln(stderr, "Usage: defihub config init <path.yaml|path.toml>")
		return 2
	}
	path := args[1]
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", path)
		return 1
	}
	if err := config.Save(path, config.Default()); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return 0
}
