package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vaultlink/claimcode"
	"vaultlink/escrow"
)

func transferUsage() string {
	return `Usage: vaultlink-cli transfer <subcommand>

Subcommands:
  create --token <symbol> --amount <decimal> --expiry-hours <n>
         [--to <address>] [--password] [--secret <code>]
  claim  --id <0x..> [--secret <code>]
  refund --id <0x..>
  get    --id <0x..>
  link   --id <0x..>`
}

func runTransferCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, transferUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runTransferCreate(args[1:], stdout, stderr)
	case "claim":
		return runTransferClaim(args[1:], stdout, stderr)
	case "refund":
		return runTransferRefund(args[1:], stdout, stderr)
	case "get":
		return runTransferGet(args[1:], stdout, stderr)
	case "link":
		return runTransferLink(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown transfer subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, transferUsage())
		return 1
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printJSON(stdout io.Writer, v interface{}) {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseID(raw string) (common.Hash, error) {
	// Accepts a bare id or a full claim link.
	return claimcode.ParseClaimLink(raw)
}

func runTransferCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer create", stderr)
	var (
		to          string
		tokenSymbol string
		amount      string
		expiryHours int
		password    bool
		secret      string
	)
	fs.StringVar(&to, "to", "", "recipient address; omit for a link transfer")
	fs.StringVar(&tokenSymbol, "token", "", "token symbol")
	fs.StringVar(&amount, "amount", "", "amount in token units")
	fs.IntVar(&expiryHours, "expiry-hours", 24, "hours until the transfer becomes refundable")
	fs.BoolVar(&password, "password", false, "gate the claim behind a code")
	fs.StringVar(&secret, "secret", "", "claim code; generated when omitted")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if tokenSymbol == "" || amount == "" {
		fmt.Fprintln(stderr, "--token and --amount are required")
		return 1
	}
	if to != "" && !common.IsHexAddress(to) {
		fmt.Fprintf(stderr, "invalid recipient address: %s\n", to)
		return 1
	}

	ctx := context.Background()
	env, err := buildEnv(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.cleanup()

	params := escrow.CreateParams{
		Token:       tokenSymbol,
		Amount:      amount,
		Expiry:      time.Now().Add(time.Duration(expiryHours) * time.Hour),
		HasPassword: password,
		Secret:      secret,
	}
	if to != "" {
		recipient := common.HexToAddress(to)
		params.Recipient = &recipient
	}
	res, err := env.svc.CreateDirect(ctx, params)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	out := map[string]interface{}{
		"id":         res.ID.Hex(),
		"provenance": string(res.Provenance),
		"txHash":     res.TxHash.Hex(),
	}
	if res.Link != "" {
		out["link"] = res.Link
	}
	if res.Secret != "" {
		// Shown once; the link never carries it.
		out["secret"] = res.Secret
	}
	printJSON(stdout, out)
	return 0
}

func runTransferClaim(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer claim", stderr)
	var id, secret string
	fs.StringVar(&id, "id", "", "transfer id or claim link")
	fs.StringVar(&secret, "secret", "", "claim code when required")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	entityID, err := parseID(id)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx := context.Background()
	env, err := buildEnv(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.cleanup()

	res, err := env.svc.Claim(ctx, entityID, secret)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	printJSON(stdout, map[string]string{"status": "claimed", "txHash": res.TxHash.Hex()})
	return 0
}

func runTransferRefund(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer refund", stderr)
	var id string
	fs.StringVar(&id, "id", "", "transfer id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	entityID, err := parseID(id)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx := context.Background()
	env, err := buildEnv(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.cleanup()

	res, err := env.svc.Refund(ctx, entityID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	printJSON(stdout, map[string]string{"status": "refunded", "txHash": res.TxHash.Hex()})
	return 0
}

func runTransferGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer get", stderr)
	var id string
	fs.StringVar(&id, "id", "", "transfer id or claim link")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	entityID, err := parseID(id)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx := context.Background()
	env, err := buildEnv(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.cleanup()

	transfer, err := env.svc.GetTransfer(ctx, entityID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	printJSON(stdout, renderTransfer(env, transfer))
	return 0
}

func runTransferLink(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer link", stderr)
	var id string
	fs.StringVar(&id, "id", "", "transfer id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	entityID, err := parseID(id)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx := context.Background()
	env, err := buildEnv(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.cleanup()

	fmt.Fprintln(stdout, env.svc.TransferLink(entityID))
	return 0
}

func renderTransfer(env *cliEnv, t *escrow.Transfer) map[string]interface{} {
	out := map[string]interface{}{
		"id":           t.ID.Hex(),
		"sender":       t.Sender.Hex(),
		"token":        t.Token.Hex(),
		"status":       t.DisplayStatus(time.Now()),
		"expiry":       time.Unix(t.Expiry, 0).UTC().Format(time.RFC3339),
		"linkTransfer": t.IsLinkTransfer,
		"hasPassword":  t.HasPassword,
	}
	if t.Recipient != nil {
		out["recipient"] = t.Recipient.Hex()
	}
	out["grossAmount"] = t.GrossAmount.String()
	out["netAmount"] = t.NetAmount.String()
	return out
}
