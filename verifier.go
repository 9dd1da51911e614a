package paygate

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/paygate-labs/paygate/store"
)

// Verifier is the payment verification and replay-prevention engine.
//
// It owns the processed set exclusively: the in-memory set is
// authoritative for membership checks during the process lifetime, and
// every mutation is written through to the backing store before the
// operation is considered durable. The ledger client and the store are
// stateless or append-only collaborators called synchronously.
//
// Verifier is safe for concurrent use within one process. Across
// processes, replay safety depends on the backend: the Redis store's
// atomic add-if-absent closes the first-acceptance race between
// instances; the file store is single-instance only.
type Verifier struct {
	ledger LedgerClient
	policy *Policy
	store  store.Store
	logger *slog.Logger

	mu         sync.Mutex
	processed  map[string]struct{}
	loaded     bool
	loadFailed bool

	// loading marks a LoadAll snapshot in flight outside the lock;
	// rolledBack collects references rolled back meanwhile, so the
	// merge cannot resurrect an undone acceptance.
	loading    bool
	rolledBack map[string]struct{}
}

// NewVerifier creates a verifier for the given ledger and policy.
//
// Default configuration:
//   - in-memory store (no durability across restarts)
//   - slog default logger
//
// Use functional options to customize:
//
//	verifier := paygate.NewVerifier(client, policy,
//	    paygate.WithStore(store.NewRedisStoreFromAddr("localhost:6379", "", 0)),
//	    paygate.WithLogger(logger),
//	)
func NewVerifier(ledger LedgerClient, policy *Policy, opts ...Option) *Verifier {
	cfg := &config{
		store:  store.NewMemoryStore(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Verifier{
		ledger:    ledger,
		policy:    policy,
		store:     cfg.store,
		logger:    cfg.logger,
		processed: make(map[string]struct{}),
	}
}

// Policy returns the verifier's payment policy.
func (v *Verifier) Policy() *Policy {
	return v.policy
}

// Load populates the in-memory processed set from the backing store.
//
// Call it once at startup. A failure is returned but must not prevent
// the process from starting: the verifier runs in a degraded mode with
// weakened replay protection and retries the load on each Verify until
// one succeeds. The degraded window is logged.
func (v *Verifier) Load(ctx context.Context) error {
	refs, err := v.store.LoadAll(ctx)
	if err != nil {
		v.mu.Lock()
		v.loadFailed = true
		v.mu.Unlock()
		v.logger.Warn("processed-set load failed; replay protection weakened until a load succeeds",
			"kind", string(KindPersistenceDegraded),
			"error", err,
		)
		return err
	}

	v.mu.Lock()
	for ref := range refs {
		v.processed[ref] = struct{}{}
	}
	v.loaded = true
	count := len(v.processed)
	v.mu.Unlock()

	v.logger.Info("processed set loaded", "count", count)
	return nil
}

// Verify checks whether ref proves a qualifying payment and, if so,
// commits it to the processed set.
//
// The attempt walks a fixed sequence: dedup check, receipt fetch,
// transfer decode, policy evaluation, commit. Every rejection is
// reported as a VerificationResult with a Reason; Verify never returns
// a Go error past its boundary. The commit is the only step that
// mutates state, and acceptance is monotonic: once accepted, a
// reference never reverts except through Rollback.
func (v *Verifier) Verify(ctx context.Context, ref string) *VerificationResult {
	canon := CanonicalRef(ref)
	if !IsTransactionReference(canon) {
		return reject(KindVerificationError, "malformed transaction reference")
	}

	v.ensureLoaded(ctx)

	// Dedup gate first: pure in-memory, so replays cost no ledger call.
	v.mu.Lock()
	_, seen := v.processed[canon]
	v.mu.Unlock()
	if seen {
		return reject(KindAlreadyUsed, "transaction already used for payment")
	}

	receipt, err := v.ledger.FetchReceipt(ctx, canon)
	if err != nil {
		v.logger.Warn("receipt fetch failed", "ref", canon, "error", err)
		return reject(KindVerificationError, "could not verify transaction; please retry")
	}
	if receipt == nil {
		return reject(KindNotFoundOrPending, "transaction not found or still pending")
	}

	if receipt.Status != ReceiptStatusSucceeded {
		return reject(KindTransactionFailed, "transaction failed on chain")
	}

	// First qualifying transfer in log order wins; a later, larger
	// transfer in the same receipt does not override it.
	events := v.ledger.DecodeTransferEvents(receipt, v.policy.TokenContract)
	var match *TransferEvent
	for i := range events {
		if strings.EqualFold(events[i].To, v.policy.Recipient) {
			match = &events[i]
			break
		}
	}
	if match == nil {
		return reject(KindRecipientMismatch, "no qualifying transfer to the expected recipient")
	}

	amount := v.policy.AmountFromRaw(match.Value)
	if amount.LessThan(v.policy.MinAmount) {
		result := reject(KindInsufficientAmount, "payment amount below required minimum")
		result.Amount = &amount
		return result
	}

	return v.commit(ctx, canon, amount)
}

// commit records the acceptance: memory first, then written through to
// the backing store.
func (v *Verifier) commit(ctx context.Context, ref string, amount decimal.Decimal) *VerificationResult {
	v.mu.Lock()
	v.processed[ref] = struct{}{}
	v.mu.Unlock()

	added, err := v.store.Add(ctx, ref)
	switch {
	case err != nil:
		// Durability risk, not a correctness risk for this call: the
		// in-memory set stays authoritative for the process lifetime.
		v.logger.Warn("processed-set write failed; acceptance held in memory only",
			"kind", string(KindPersistenceDegraded),
			"ref", ref,
			"error", err,
		)
	case !added:
		// Another instance committed this reference first. The store's
		// add-if-absent reply is the authoritative dedup decision.
		v.logger.Info("reference already accepted elsewhere", "ref", ref)
		return reject(KindAlreadyUsed, "transaction already used for payment")
	}

	return &VerificationResult{Valid: true, Amount: &amount}
}

// Rollback un-commits a previously accepted reference so the caller may
// legitimately retry with the same proof after downstream work failed.
//
// The in-memory removal stands even when the backing-store removal
// fails: availability of the retry wins over strict durability. The
// divergence heals only on restart, when the stale accepted entry is
// reloaded from the store; until then retries on this instance proceed.
func (v *Verifier) Rollback(ctx context.Context, ref string) {
	canon := CanonicalRef(ref)

	v.mu.Lock()
	_, present := v.processed[canon]
	if present {
		delete(v.processed, canon)
		if v.loading {
			v.rolledBack[canon] = struct{}{}
		}
	}
	v.mu.Unlock()

	if !present {
		return
	}

	if err := v.store.Remove(ctx, canon); err != nil {
		v.logger.Warn("processed-set removal failed; entry will resurface after restart",
			"kind", string(KindPersistenceDegraded),
			"ref", canon,
			"error", err,
		)
	}
	v.logger.Info("payment acceptance rolled back", "ref", canon)
}

// ProcessedCount returns the number of accepted references held in
// memory.
func (v *Verifier) ProcessedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.processed)
}

// ClearAll empties both the in-memory set and the backing store.
// Administrative and testing use only.
func (v *Verifier) ClearAll(ctx context.Context) error {
	v.mu.Lock()
	v.processed = make(map[string]struct{})
	v.mu.Unlock()

	return v.store.Clear(ctx)
}

// ensureLoaded retries a failed startup load so the degraded window
// ends at the first successful load rather than lasting the whole
// process lifetime.
func (v *Verifier) ensureLoaded(ctx context.Context) {
	v.mu.Lock()
	if v.loaded || v.loading {
		v.mu.Unlock()
		return
	}
	v.loading = true
	v.rolledBack = make(map[string]struct{})
	v.mu.Unlock()

	refs, err := v.store.LoadAll(ctx)

	v.mu.Lock()
	v.loading = false
	if err != nil {
		v.rolledBack = nil
		v.loadFailed = true
		v.mu.Unlock()
		v.logger.Warn("processed-set reload failed; still degraded",
			"kind", string(KindPersistenceDegraded),
			"error", err,
		)
		return
	}

	// The snapshot predates any rollback that ran while it was being
	// taken; skip those references or the merge would resurrect an
	// acceptance the caller was told it may retry.
	for ref := range refs {
		if _, rolled := v.rolledBack[ref]; rolled {
			continue
		}
		v.processed[ref] = struct{}{}
	}
	v.rolledBack = nil
	v.loaded = true
	wasDegraded := v.loadFailed
	v.loadFailed = false
	v.mu.Unlock()

	if wasDegraded {
		v.logger.Info("processed set recovered after degraded start", "count", len(refs))
	}
}

func reject(kind ErrorKind, message string) *VerificationResult {
	return &VerificationResult{
		Valid:   false,
		Reason:  kind,
		Message: message,
	}
}
