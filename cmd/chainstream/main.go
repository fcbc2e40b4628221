// chainstream subscribes to Solana-style JSON-RPC WebSocket notifications and
// prints them as JSON lines, optionally relaying them to NATS and recording
// reconnect gaps in PostgreSQL.
//
// Usage:
//
//	chainstream slot --config configs/chainstream.yaml
//	chainstream account <pubkey> --commitment finalized
//	chainstream signature <signature> --url wss://api.devnet.solana.com
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chainstream:", err)
		os.Exit(1)
	}
}
