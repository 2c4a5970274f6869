// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package withdraw

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/chains"
	"github.com/luxfi/gateway/config"
	"github.com/luxfi/gateway/ipc"
	"github.com/luxfi/gateway/memo"
	"github.com/luxfi/gateway/parachain"
)

func TestModeUnique(t *testing.T) {
	m, ok := mode([]int64{5, 5, 5, 6, 6, 5, 7})
	require.True(t, ok)
	assert.Equal(t, int64(5), m)
}

func TestModeTieSkips(t *testing.T) {
	_, ok := mode([]int64{5, 5, 6, 6, 7})
	assert.False(t, ok)

	_, ok = mode([]int64{})
	assert.False(t, ok)
}

func TestCanonicalizeIgnoresWhitespace(t *testing.T) {
	a, err := canonicalize([]json.RawMessage{json.RawMessage(`{ "op":  1 }`)})
	require.NoError(t, err)
	b, err := canonicalize([]json.RawMessage{json.RawMessage(`{"op":1}`)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func opinionsFor(t *testing.T, blockNum int64, contents ...string) []map[string][]json.RawMessage {
	t.Helper()
	key := fmt.Sprintf("%d", blockNum)
	out := make([]map[string][]json.RawMessage, 0, len(contents))
	for _, c := range contents {
		if c == "" {
			out = append(out, map[string][]json.RawMessage{})
			continue
		}
		out = append(out, map[string][]json.RawMessage{key: {json.RawMessage(c)}})
	}
	return out
}

func TestReduceBlockOpinionsMajorityWins(t *testing.T) {
	// Four mavens say L2, three say L1: L2 is the mode.
	opinions := opinionsFor(t, 9,
		`{"v":"L1"}`, `{"v":"L1"}`, `{"v":"L1"}`,
		`{"v":"L2"}`, `{"v":"L2"}`, `{"v":"L2"}`, `{"v":"L2"}`,
	)
	blocks, err := reduceBlockOpinions([]int64{9}, opinions, 6)
	require.NoError(t, err)
	require.Len(t, blocks[9], 1)
	assert.JSONEq(t, `{"v":"L2"}`, string(blocks[9][0]))
}

func TestReduceBlockOpinionsNoModeFails(t *testing.T) {
	opinions := opinionsFor(t, 9,
		`{"v":"L1"}`, `{"v":"L1"}`, `{"v":"L1"}`,
		`{"v":"L2"}`, `{"v":"L2"}`, `{"v":"L2"}`,
		`{"v":"L3"}`,
	)
	_, err := reduceBlockOpinions([]int64{9}, opinions, 6)
	require.Error(t, err)
}

func TestReduceBlockOpinionsQuorumShortfall(t *testing.T) {
	opinions := opinionsFor(t, 9, `{"v":"L1"}`, `{"v":"L1"}`, "", "", "", "", "")
	_, err := reduceBlockOpinions([]int64{9}, opinions, 6)
	require.ErrorIs(t, err, errNotEnoughMavens)
}

type fakeIssuer struct {
	mu       sync.Mutex
	reserves []float64
}

func (f *fakeIssuer) Issue(context.Context, string, float64, string) error { return nil }
func (f *fakeIssuer) Reserve(_ context.Context, _ string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves = append(f.reserves, amount)
	return nil
}

type chronicled struct {
	event audit.Event
	msg   string
}

type fakeRecorder struct {
	mu      sync.Mutex
	msgs    []string
	entries []chronicled
}

func (r *fakeRecorder) Chronicle(ev audit.Event, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	r.entries = append(r.entries, chronicled{event: ev, msg: msg})
}

// txIDFor returns the withdrawal envelope tx id recorded with msg.
func (r *fakeRecorder) txIDFor(msg string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.msg != msg {
			continue
		}
		if ev, ok := e.event.(*audit.WithdrawalEvent); ok {
			return ev.TxID
		}
	}
	return ""
}

func (r *fakeRecorder) contains(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m == sub {
			return true
		}
	}
	return false
}

type fakeBackend struct {
	mu     sync.Mutex
	orders []chains.Order
}

func (f *fakeBackend) Transfer(_ context.Context, order chains.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	return "forntxid", nil
}

func (f *fakeBackend) Balance(context.Context, string) (float64, error) { return 0, nil }

type fakeVerifier struct{ valid bool }

func (f *fakeVerifier) VerifyAccount(context.Context, string) (bool, error) { return f.valid, nil }

func xyzConfig() *config.Config {
	cfg := config.Default()
	cfg.Offerings = []string{"xyz"}
	return cfg
}

func newTestIngestor(t *testing.T, valid bool) (*Ingestor, *fakeRecorder, *fakeIssuer, *fakeBackend, *ipc.Bus) {
	t.Helper()
	bus, err := ipc.NewBus(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, bus.Write(parachain.CacheDoc("xyz"), parachain.Cache{"10": {}}))

	recorder := &fakeRecorder{}
	issuer := &fakeIssuer{}
	backend := &fakeBackend{}
	svc := chains.NewService(log.Root())
	svc.Register("xyz", backend)

	cfg := xyzConfig()
	cfg.Parachain["xyz"] = config.ParachainParams{Pause: 5 * time.Millisecond, Window: 200}

	in := &Ingestor{
		Cfg:       cfg,
		Bus:       bus,
		Recorder:  recorder,
		Log:       log.Root(),
		Decoder:   memo.Passthrough{},
		Chains:    svc,
		Issuer:    issuer,
		Verifiers: map[string]AccountVerifier{"xyz": &fakeVerifier{valid: valid}},
		ArmWait:   100 * time.Millisecond,
	}
	return in, recorder, issuer, backend, bus
}

func transferOpJSON(memoJSON string) []json.RawMessage {
	body := fmt.Sprintf(`{
		"from": "1.2.200",
		"to": "1.2.0",
		"amount": {"amount": 250000, "asset_id": "1.3.0"}%s
	}`, memoJSON)
	return []json.RawMessage{json.RawMessage(`0`), json.RawMessage(body)}
}

func TestWithdrawalHappyPath(t *testing.T) {
	in, recorder, issuer, backend, bus := newTestIngestor(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in.dispatchOperation(ctx, 55, 0, transferOpJSON(`, "memo": "client-address"`))

	// The handler broadcasts the foreign transfer once its matcher is armed.
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.orders) == 1
	}, 5*time.Second, 10*time.Millisecond)
	backend.mu.Lock()
	order := backend.orders[0]
	backend.mu.Unlock()
	assert.Equal(t, "client-address", order.To)
	assert.Equal(t, 2.5, order.Quantity)
	assert.Equal(t, "xyz-gateway-outbound", order.Public)

	// The foreign transfer lands on the parachain; the matcher reserves.
	require.NoError(t, bus.Write(parachain.CacheDoc("xyz"), parachain.Cache{
		"10": {},
		"11": {{To: "client-address", From: "xyz-gateway-outbound", Amount: 2.5, Hash: "fff"}},
		"12": {},
	}))

	require.Eventually(t, func() bool {
		issuer.mu.Lock()
		defer issuer.mu.Unlock()
		return len(issuer.reserves) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.5, issuer.reserves[0])

	in.handlers.Wait()
	assert.True(t, recorder.contains("RESERVING 2.50000000"))
	assert.True(t, recorder.contains("foreign transfer broadcast forntxid"))

	// The handler's record keeps the broadcast id; the matcher's record
	// keeps the transfer hash the parachain observed.
	assert.Equal(t, "forntxid", recorder.txIDFor("foreign transfer broadcast forntxid"))
	assert.Equal(t, "fff", recorder.txIDFor("RESERVING 2.50000000"))
}

func TestWithdrawalWithoutMemoDropped(t *testing.T) {
	in, recorder, _, backend, _ := newTestIngestor(t, true)

	in.dispatchOperation(context.Background(), 55, 0, transferOpJSON(""))
	in.handlers.Wait()

	assert.True(t, recorder.contains("WARN: transfer to gateway WITHOUT memo"))
	assert.Empty(t, backend.orders)
}

func TestWithdrawalInvalidAddressAborts(t *testing.T) {
	in, recorder, issuer, backend, _ := newTestIngestor(t, false)

	in.dispatchOperation(context.Background(), 55, 0, transferOpJSON(`, "memo": "not-an-address"`))
	in.handlers.Wait()

	assert.True(t, recorder.contains("memo is NOT a valid xyz account name"))
	assert.Empty(t, backend.orders)
	assert.Empty(t, issuer.reserves)
}

func TestNonGatewayTransfersIgnored(t *testing.T) {
	in, recorder, _, backend, _ := newTestIngestor(t, true)

	op := []json.RawMessage{json.RawMessage(`0`), json.RawMessage(`{
		"from": "1.2.200", "to": "1.2.777",
		"amount": {"amount": 250000, "asset_id": "1.3.0"},
		"memo": "client-address"
	}`)}
	in.dispatchOperation(context.Background(), 55, 0, op)
	in.handlers.Wait()

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Empty(t, recorder.msgs)
	assert.Empty(t, backend.orders)
}
