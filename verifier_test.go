package paygate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygate-labs/paygate/store"
)

const (
	testRecipient = "0x209693bc6afc0c5328ba36faf03c514ef312287c"
	testToken     = "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	testOther     = "0x1111111111111111111111111111111111111111"
	testRef       = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testRef2      = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// mockLedger serves canned receipts and transfer events keyed by
// transaction reference.
type mockLedger struct {
	mu       sync.Mutex
	receipts map[string]*Receipt
	events   map[string][]TransferEvent
	fetchErr error
	fetches  int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		receipts: make(map[string]*Receipt),
		events:   make(map[string][]TransferEvent),
	}
}

func (m *mockLedger) FetchReceipt(_ context.Context, ref string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.receipts[CanonicalRef(ref)], nil
}

func (m *mockLedger) DecodeTransferEvents(receipt *Receipt, _ string) []TransferEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[receipt.TxHash]
}

func (m *mockLedger) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// addTransfer registers a succeeded receipt for ref with the given
// transfers, in order.
func (m *mockLedger) addTransfer(ref string, transfers ...TransferEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	canon := CanonicalRef(ref)
	m.receipts[canon] = &Receipt{TxHash: canon, Status: ReceiptStatusSucceeded, BlockNumber: 100}
	m.events[canon] = transfers
}

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	policy, err := NewPolicy(testRecipient, testToken, "0.10", 6, "eip155:84532")
	require.NoError(t, err)
	return policy
}

func transferTo(to string, raw int64) TransferEvent {
	return TransferEvent{
		From:  testOther,
		To:    to,
		Value: big.NewInt(raw),
	}
}

func TestVerify_AcceptsQualifyingTransfer(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	v := NewVerifier(ledger, testPolicy(t))

	result := v.Verify(context.Background(), testRef)

	require.True(t, result.Valid)
	require.NotNil(t, result.Amount)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("0.15")),
		"expected exactly 0.15, got %s", result.Amount)
	assert.Equal(t, 1, v.ProcessedCount())
}

func TestVerify_ReplayRejectedWithoutLedgerCall(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	v := NewVerifier(ledger, testPolicy(t))

	first := v.Verify(context.Background(), testRef)
	require.True(t, first.Valid)
	fetchesAfterFirst := ledger.fetchCount()

	second := v.Verify(context.Background(), testRef)
	require.False(t, second.Valid)
	assert.Equal(t, KindAlreadyUsed, second.Reason)
	// The dedup gate is in-memory and comes first: no second fetch.
	assert.Equal(t, fetchesAfterFirst, ledger.fetchCount())
}

func TestVerify_RollbackIsTrueUndo(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	v := NewVerifier(ledger, testPolicy(t))
	ctx := context.Background()

	require.True(t, v.Verify(ctx, testRef).Valid)
	v.Rollback(ctx, testRef)

	retry := v.Verify(ctx, testRef)
	assert.True(t, retry.Valid, "rollback must allow a legitimate retry with the same proof")
}

func TestVerify_RollbackOfUnknownRefIsNoop(t *testing.T) {
	ledger := newMockLedger()
	v := NewVerifier(ledger, testPolicy(t))

	v.Rollback(context.Background(), testRef)
	assert.Equal(t, 0, v.ProcessedCount())
}

func TestVerify_NotFoundOrPending(t *testing.T) {
	v := NewVerifier(newMockLedger(), testPolicy(t))

	result := v.Verify(context.Background(), testRef)

	require.False(t, result.Valid)
	assert.Equal(t, KindNotFoundOrPending, result.Reason)
}

func TestVerify_TransportFailure(t *testing.T) {
	ledger := newMockLedger()
	ledger.fetchErr = errors.New("rpc timeout")
	v := NewVerifier(ledger, testPolicy(t))

	result := v.Verify(context.Background(), testRef)

	require.False(t, result.Valid)
	assert.Equal(t, KindVerificationError, result.Reason)
	// Nothing was committed; the caller may retry.
	assert.Equal(t, 0, v.ProcessedCount())
}

func TestVerify_FailedTransactionRejectedRegardlessOfLogs(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	ledger.receipts[testRef].Status = ReceiptStatusFailed

	v := NewVerifier(ledger, testPolicy(t))
	result := v.Verify(context.Background(), testRef)

	require.False(t, result.Valid)
	assert.Equal(t, KindTransactionFailed, result.Reason)
}

func TestVerify_RecipientMismatch(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testOther, 150000))
	v := NewVerifier(ledger, testPolicy(t))

	result := v.Verify(context.Background(), testRef)

	require.False(t, result.Valid)
	assert.Equal(t, KindRecipientMismatch, result.Reason)
}

func TestVerify_InsufficientAmountStillReportsAmount(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 99999))
	v := NewVerifier(ledger, testPolicy(t))

	result := v.Verify(context.Background(), testRef)

	require.False(t, result.Valid)
	assert.Equal(t, KindInsufficientAmount, result.Reason)
	require.NotNil(t, result.Amount)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("0.099999")),
		"expected exactly 0.099999, got %s", result.Amount)
	// Informational only: nothing was committed.
	assert.Equal(t, 0, v.ProcessedCount())
}

func TestVerify_ExactMinimumAccepted(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 100000))
	v := NewVerifier(ledger, testPolicy(t))

	result := v.Verify(context.Background(), testRef)

	require.True(t, result.Valid)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("0.10")))
}

func TestVerify_FirstQualifyingTransferWins(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef,
		transferTo(testRecipient, 50000),
		transferTo(testRecipient, 500000),
	)
	v := NewVerifier(ledger, testPolicy(t))

	result := v.Verify(context.Background(), testRef)

	// Ties resolve by first occurrence in log order, not largest amount,
	// so this attempt reports 0.05 and fails the minimum.
	require.False(t, result.Valid)
	assert.Equal(t, KindInsufficientAmount, result.Reason)
	require.NotNil(t, result.Amount)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("0.05")))
}

func TestVerify_RecipientComparisonIsCaseInsensitive(t *testing.T) {
	ledger := newMockLedger()
	checksummed := "0x" + strings.ToUpper(testRecipient[2:])
	ledger.addTransfer(testRef, TransferEvent{From: testOther, To: checksummed, Value: big.NewInt(150000)})
	v := NewVerifier(ledger, testPolicy(t))

	result := v.Verify(context.Background(), testRef)
	assert.True(t, result.Valid)
}

func TestVerify_MalformedReference(t *testing.T) {
	v := NewVerifier(newMockLedger(), testPolicy(t))

	for _, ref := range []string{"", "0x123", "not-a-hash", testRef + "ff"} {
		result := v.Verify(context.Background(), ref)
		require.False(t, result.Valid, "ref %q", ref)
		assert.Equal(t, KindVerificationError, result.Reason)
	}
}

func TestVerify_ReferenceCanonicalization(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	v := NewVerifier(ledger, testPolicy(t))
	ctx := context.Background()

	upper := "0x" + strings.ToUpper(testRef[2:])
	require.True(t, v.Verify(ctx, upper).Valid)

	// The lower-case spelling names the same transaction.
	replay := v.Verify(ctx, testRef)
	require.False(t, replay.Valid)
	assert.Equal(t, KindAlreadyUsed, replay.Reason)
	assert.Equal(t, 1, v.ProcessedCount())
}

// failingStore wraps a MemoryStore, failing selected operations.
// loadHook, if set, runs once after a LoadAll snapshot is taken and
// before it is returned.
type failingStore struct {
	*store.MemoryStore
	addErr    error
	removeErr error
	loadErr   error
	loadHook  func()
}

func (s *failingStore) Add(ctx context.Context, ref string) (bool, error) {
	if s.addErr != nil {
		return false, s.addErr
	}
	return s.MemoryStore.Add(ctx, ref)
}

func (s *failingStore) Remove(ctx context.Context, ref string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.MemoryStore.Remove(ctx, ref)
}

func (s *failingStore) LoadAll(ctx context.Context) (map[string]struct{}, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	refs, err := s.MemoryStore.LoadAll(ctx)
	if hook := s.loadHook; hook != nil {
		s.loadHook = nil
		hook()
	}
	return refs, err
}

func TestVerify_PersistenceFailureDoesNotFlipVerdict(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	backing := &failingStore{MemoryStore: store.NewMemoryStore(), addErr: errors.New("disk full")}
	v := NewVerifier(ledger, testPolicy(t), WithStore(backing))

	result := v.Verify(context.Background(), testRef)

	// Durability risk, not a correctness risk: the call still succeeds
	// and the in-memory set guards replays for this process.
	require.True(t, result.Valid)
	replay := v.Verify(context.Background(), testRef)
	assert.Equal(t, KindAlreadyUsed, replay.Reason)
}

func TestVerify_StoreDuplicateIsAuthoritative(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))

	// Simulate another instance having committed first: the backing
	// store already holds the reference while this instance's memory
	// does not.
	backing := store.NewMemoryStore()
	_, err := backing.Add(context.Background(), testRef)
	require.NoError(t, err)

	v := NewVerifier(ledger, testPolicy(t), WithStore(backing))
	// Skip Load on purpose: this verifier never saw the reference.
	v.loaded = true

	result := v.Verify(context.Background(), testRef)
	require.False(t, result.Valid)
	assert.Equal(t, KindAlreadyUsed, result.Reason)
}

func TestVerify_RollbackSurvivesStoreFailure(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	backing := &failingStore{MemoryStore: store.NewMemoryStore()}
	v := NewVerifier(ledger, testPolicy(t), WithStore(backing))
	ctx := context.Background()

	require.True(t, v.Verify(ctx, testRef).Valid)

	backing.removeErr = errors.New("connection reset")
	v.Rollback(ctx, testRef)

	// The in-memory removal stands, so the retry proceeds immediately.
	assert.True(t, v.Verify(ctx, testRef).Valid)
}

func TestVerifier_DegradedLoadRecovers(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	ledger.addTransfer(testRef2, transferTo(testRecipient, 150000))

	backing := &failingStore{MemoryStore: store.NewMemoryStore(), loadErr: errors.New("redis down")}
	_, err := backing.MemoryStore.Add(context.Background(), testRef)
	require.NoError(t, err)

	v := NewVerifier(ledger, testPolicy(t), WithStore(backing))
	require.Error(t, v.Load(context.Background()))

	// Store recovers; the next verification reloads the set first, so
	// the previously stored reference is a replay.
	backing.loadErr = nil
	assert.True(t, v.Verify(context.Background(), testRef2).Valid)

	replay := v.Verify(context.Background(), testRef)
	require.False(t, replay.Valid)
	assert.Equal(t, KindAlreadyUsed, replay.Reason)
}

func TestVerifier_RollbackDuringReloadNotResurrected(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	ledger.addTransfer(testRef2, transferTo(testRecipient, 150000))
	ctx := context.Background()

	backing := &failingStore{MemoryStore: store.NewMemoryStore()}
	_, err := backing.MemoryStore.Add(ctx, testRef)
	require.NoError(t, err)

	v := NewVerifier(ledger, testPolicy(t), WithStore(backing))
	// Accepted during the degraded window: held in memory and in the
	// store, but no load has succeeded yet.
	v.processed[testRef] = struct{}{}

	// The rollback lands after the reload snapshot is taken and before
	// it is merged. The merge must not overwrite the removal.
	backing.loadHook = func() { v.Rollback(ctx, testRef) }
	require.True(t, v.Verify(ctx, testRef2).Valid)

	retry := v.Verify(ctx, testRef)
	require.True(t, retry.Valid, "rolled-back reference resurrected by reload merge")
}

func TestVerify_ConcurrentSameReferenceAcceptedOnce(t *testing.T) {
	ledger := newMockLedger()
	ledger.addTransfer(testRef, transferTo(testRecipient, 150000))
	v := NewVerifier(ledger, testPolicy(t))

	const attempts = 32
	var wg sync.WaitGroup
	results := make([]*VerificationResult, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = v.Verify(context.Background(), testRef)
		}(i)
	}
	wg.Wait()

	valid := 0
	for _, r := range results {
		if r.Valid {
			valid++
		} else {
			assert.Equal(t, KindAlreadyUsed, r.Reason)
		}
	}
	assert.Equal(t, 1, valid, "exactly one concurrent attempt may win")
}

func TestVerifier_ClearAll(t *testing.T) {
	ledger := newMockLedger()
	backing := store.NewMemoryStore()
	v := NewVerifier(ledger, testPolicy(t), WithStore(backing))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ref := fmt.Sprintf("0x%064x", i+1)
		ledger.addTransfer(ref, transferTo(testRecipient, 150000))
		require.True(t, v.Verify(ctx, ref).Valid)
	}
	require.Equal(t, 3, v.ProcessedCount())

	require.NoError(t, v.ClearAll(ctx))
	assert.Equal(t, 0, v.ProcessedCount())

	stored, err := backing.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
