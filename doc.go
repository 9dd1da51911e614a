// Package paygate verifies on-chain stablecoin payments and prevents
// replay of payment proofs.
//
// A Verifier takes a claimed transaction reference, confirms against an
// external EVM ledger that a qualifying token transfer to the configured
// recipient actually occurred, and records the reference in a durable
// processed set so it can never be accepted twice. Acceptance can be
// rolled back when the paid-for work fails downstream, allowing a
// legitimate retry with the same proof.
//
// Basic usage:
//
//	policy, err := paygate.NewPolicy(
//	    "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", // recipient
//	    "0x036CbD53842c5426634e7929541eC2318f3dCF7e", // token contract
//	    "0.10", // minimum amount
//	    6,      // token decimals
//	    "eip155:84532",
//	)
//	if err != nil {
//	    log.Fatal(err) // serving under a malformed policy is unsafe
//	}
//
//	client, err := ledger.Dial("https://sepolia.base.org")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	verifier := paygate.NewVerifier(client, policy,
//	    paygate.WithStore(store.NewFileStore("processed_payments.txt")),
//	)
//	verifier.Load(ctx)
//
//	result := verifier.Verify(ctx, txHash)
//	if result.Valid {
//	    // do the paid work; on failure: verifier.Rollback(ctx, txHash)
//	}
//
// The subpackages provide the collaborators: ledger implements the
// read-only chain adapter, store the dedup-set backends, and http the
// 402 gate for exposing a Verifier over HTTP.
package paygate
