package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"vaultlink/claimcode"
	"vaultlink/escrow"
)

func dropUsage() string {
	return `Usage: vaultlink-cli drop <subcommand>

Subcommands:
  create --token <symbol> --amount <decimal> --recipients <n>
         [--mode fixed|random] [--expiry-hours <n>] [--message <text>]
  claim  --id <0x..>
  refund --id <0x..>
  get    --id <0x..>`
}

func runDropCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, dropUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runDropCreate(args[1:], stdout, stderr)
	case "claim":
		return runDropClaim(args[1:], stdout, stderr)
	case "refund":
		return runDropRefund(args[1:], stdout, stderr)
	case "get":
		return runDropGet(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown drop subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, dropUsage())
		return 1
	}
}

func runDropCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("drop create", stderr)
	var (
		tokenSymbol string
		amount      string
		recipients  uint
		mode        string
		expiryHours int
		message     string
	)
	fs.StringVar(&tokenSymbol, "token", "", "token symbol")
	fs.StringVar(&amount, "amount", "", "total amount in token units")
	fs.UintVar(&recipients, "recipients", 0, "number of claimants")
	fs.StringVar(&mode, "mode", "fixed", "distribution mode: fixed or random")
	fs.IntVar(&expiryHours, "expiry-hours", 24, "hours until the remainder becomes refundable")
	fs.StringVar(&message, "message", "", "message shown to claimants")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if tokenSymbol == "" || amount == "" || recipients == 0 {
		fmt.Fprintln(stderr, "--token, --amount and --recipients are required")
		return 1
	}
	var distribution escrow.DistributionMode
	switch strings.ToLower(mode) {
	case "fixed":
		distribution = escrow.DistributionFixed
	case "random":
		distribution = escrow.DistributionRandom
	default:
		fmt.Fprintf(stderr, "invalid mode: %s\n", mode)
		return 1
	}

	ctx := context.Background()
	env, err := buildEnv(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.cleanup()

	res, err := env.svc.CreateDrop(ctx, escrow.DropParams{
		Token:          tokenSymbol,
		TotalAmount:    amount,
		RecipientCount: uint32(recipients),
		Mode:           distribution,
		ExpiryHours:    expiryHours,
		Message:        message,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	printJSON(stdout, map[string]string{
		"id":         res.ID.Hex(),
		"provenance": string(res.Provenance),
		"link":       res.Link,
		"txHash":     res.TxHash.Hex(),
	})
	return 0
}

func runDropClaim(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("drop claim", stderr)
	var id string
	fs.StringVar(&id, "id", "", "drop id or claim link")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	entityID, err := claimcode.ParseClaimLink(id)
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

	drop, res, err := env.svc.ClaimDrop(ctx, entityID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	printJSON(stdout, map[string]interface{}{
		"status":          "claimed",
		"txHash":          res.TxHash.Hex(),
		"claimedCount":    drop.ClaimedCount,
		"totalRecipients": drop.TotalRecipients,
		"remainingAmount": drop.RemainingAmount.String(),
	})
	return 0
}

func runDropRefund(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("drop refund", stderr)
	var id string
	fs.StringVar(&id, "id", "", "drop id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	entityID, err := claimcode.ParseClaimLink(id)
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

	res, err := env.svc.RefundDrop(ctx, entityID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	printJSON(stdout, map[string]string{"status": "refunded", "txHash": res.TxHash.Hex()})
	return 0
}

func runDropGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("drop get", stderr)
	var id string
	fs.StringVar(&id, "id", "", "drop id or claim link")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	entityID, err := claimcode.ParseClaimLink(id)
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

	drop, err := env.svc.GetDrop(ctx, entityID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	printJSON(stdout, map[string]interface{}{
		"id":                 drop.ID.Hex(),
		"creator":            drop.Creator.Hex(),
		"token":              drop.Token.Hex(),
		"totalAmount":        drop.TotalAmount.String(),
		"remainingAmount":    drop.RemainingAmount.String(),
		"claimedCount":       drop.ClaimedCount,
		"totalRecipients":    drop.TotalRecipients,
		"amountPerRecipient": drop.AmountPerRecipient.String(),
		"mode":               drop.Mode.String(),
		"expiryTime":         time.Unix(drop.ExpiryTime, 0).UTC().Format(time.RFC3339),
		"message":            drop.Message,
		"isActive":           drop.IsActive,
	})
	return 0
}
