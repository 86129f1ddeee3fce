package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *clock.TestClock, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", DefaultFileName)
	clk := clock.NewTestClock(testTime)

	store, err := Open(path, clk)
	require.NoError(t, err)

	return store, clk, path
}

func testState(t *testing.T) *orders.OrderInvoiceState {
	t.Helper()

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)

	note := &nostr.Note{Kind: orders.KindOrderRequest, Content: "{}"}
	require.NoError(t, keys.Sign(note))

	return orders.NewOrderInvoiceState(note, nil, nil)
}

// TestTransitions checks that transitions are appended in order and survive
// a reopen.
func TestTransitions(t *testing.T) {
	t.Parallel()

	store, clk, path := newTestStore(t)
	state := testState(t)

	_, err := store.History(state.ID())
	require.ErrorIs(t, err, ErrUnknownOrder)

	require.NoError(t, store.RecordTransition(state, "order created"))

	clk.SetTime(testTime.Add(time.Minute))
	require.NoError(t, state.MarkPaymentReceived())
	require.NoError(t, store.RecordTransition(state, "invoice accepted"))

	require.NoError(t, store.Close())

	store, err = Open(path, clk)
	require.NoError(t, err)
	defer store.Close()

	history, err := store.History(state.ID())
	require.NoError(t, err)
	require.Len(t, history, 2)

	require.Equal(t, uint64(1), history[0].Seq)
	require.Equal(t, "order created", history[0].Reason)
	require.Equal(t, string(orders.PaymentPending), history[0].PaymentStatus)
	require.True(t, testTime.Equal(history[0].Time))

	require.Equal(t, uint64(2), history[1].Seq)
	require.Equal(t, string(orders.PaymentReceived), history[1].PaymentStatus)
	require.Equal(t, string(orders.Pending), history[1].OrderStatus)
	require.True(t, testTime.Add(time.Minute).Equal(history[1].Time))
}

// TestInterventions checks recording and listing of interventions.
func TestInterventions(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	defer store.Close()

	list, err := store.Interventions()
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, store.RecordIntervention(
		"order-1", "cancel hold invoice", errors.New("node offline"),
	))
	require.NoError(t, store.RecordIntervention("order-2", "payout", nil))

	list, err = store.Interventions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "order-1", list[0].OrderID)
	require.Equal(t, "node offline", list[0].Error)
	require.Equal(t, "payout", list[1].Action)
	require.Empty(t, list[1].Error)
}
