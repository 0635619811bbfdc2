package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"vaultlink/claimcode"
)

func runCodeCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "generate" {
		fmt.Fprintln(stderr, "Usage: vaultlink-cli code generate [--length <n>]")
		return 1
	}
	fs := newFlagSet("code generate", stderr)
	length := fs.Int("length", claimcode.DefaultLength, "code length")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	code, err := claimcode.Generate(*length)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	commitment := claimcode.Commit(code)
	printJSON(stdout, map[string]string{
		"code":       code,
		"commitment": "0x" + hex.EncodeToString(commitment[:]),
	})
	return 0
}

func runOpsCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "pending" {
		fmt.Fprintln(stderr, "Usage: vaultlink-cli ops pending")
		return 1
	}
	ctx := context.Background()
	env, err := buildEnv(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.cleanup()

	pending, err := env.store.Pending()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(pending) == 0 {
		fmt.Fprintln(stdout, "no pending operations")
		return 0
	}
	for _, op := range pending {
		line := map[string]interface{}{
			"id":    op.ID,
			"kind":  string(op.Kind),
			"stage": string(op.Stage),
		}
		if saga := op.Saga(); saga != "" {
			line["saga"] = string(saga)
		}
		if op.LastError != "" {
			line["lastError"] = op.LastError
		}
		printJSON(stdout, line)
	}
	return 0
}
