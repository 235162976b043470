package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitAndAwaitResolved(t *testing.T) {
	sink := NewChanSink(16)
	coord := NewCoordinator(sink)
	defer coord.Close()

	done := make(chan CoordinationResponse, 1)
	go func() {
		resp, err := coord.EmitAndAwait(context.Background(), CoordinationRequest{
			Kind:    KindPermission,
			Payload: map[string]any{"function": "delete_file"},
		}, time.Second)
		require.NoError(t, err)
		done <- resp
	}()

	// The request surfaces through the sink; answer it like a transport would.
	var requestID string
	select {
	case ev := <-sink.Events():
		require.Equal(t, EventCoordinationRequest, ev.Kind)
		require.NotNil(t, ev.Request)
		requestID = ev.Request.ID
	case <-time.After(time.Second):
		t.Fatal("coordination request never surfaced")
	}

	require.True(t, coord.Resolve(requestID, CoordinationResponse{Outcome: OutcomeApproved}))

	resp := <-done
	require.Equal(t, OutcomeApproved, resp.Outcome)
	require.Equal(t, requestID, resp.ID)
}

func TestEmitAndAwaitTimeout(t *testing.T) {
	coord := NewCoordinator(NopSink{})
	defer coord.Close()

	start := time.Now()
	resp, err := coord.EmitAndAwait(context.Background(), CoordinationRequest{Kind: KindPermission}, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, OutcomeTimeout, resp.Outcome)
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	require.Less(t, elapsed, 200*time.Millisecond)
	require.Zero(t, coord.PendingCount())
}

func TestEmitAndAwaitCancelled(t *testing.T) {
	coord := NewCoordinator(NopSink{})
	defer coord.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	resp, err := coord.EmitAndAwait(ctx, CoordinationRequest{Kind: KindClarification}, time.Second)
	require.NoError(t, err)
	require.Equal(t, OutcomeCancelled, resp.Outcome)
}

func TestResolveUnknownIDIsNoop(t *testing.T) {
	coord := NewCoordinator(NopSink{})
	defer coord.Close()

	require.False(t, coord.Resolve("nope", CoordinationResponse{Outcome: OutcomeApproved}))
}

func TestResolveTwiceSecondIsNoop(t *testing.T) {
	coord := NewCoordinator(NopSink{})
	defer coord.Close()

	done := make(chan CoordinationResponse, 1)
	go func() {
		resp, _ := coord.EmitAndAwait(context.Background(), CoordinationRequest{ID: "req-1", Kind: KindPermission}, time.Second)
		done <- resp
	}()

	// Wait for the request to register.
	require.Eventually(t, func() bool { return coord.PendingCount() == 1 }, time.Second, time.Millisecond)

	require.True(t, coord.Resolve("req-1", CoordinationResponse{Outcome: OutcomeDenied}))
	require.False(t, coord.Resolve("req-1", CoordinationResponse{Outcome: OutcomeApproved}))

	resp := <-done
	require.Equal(t, OutcomeDenied, resp.Outcome)
}

func TestLateResolveAfterTimeoutIsNoop(t *testing.T) {
	coord := NewCoordinator(NopSink{})
	defer coord.Close()

	resp, err := coord.EmitAndAwait(context.Background(), CoordinationRequest{ID: "late", Kind: KindPermission}, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, OutcomeTimeout, resp.Outcome)

	// A response arriving after the timeout must not blow up or leak.
	require.False(t, coord.Resolve("late", CoordinationResponse{Outcome: OutcomeApproved}))
}

func TestConcurrentAwaitsDoNotCrossTalk(t *testing.T) {
	coord := NewCoordinator(NopSink{})
	defer coord.Close()

	var wg sync.WaitGroup
	outcomes := make([]CoordinationResponse, 2)
	for i, id := range []string{"req-a", "req-b"} {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			outcomes[idx], _ = coord.EmitAndAwait(context.Background(), CoordinationRequest{ID: id, Kind: KindPermission}, time.Second)
		}(i, id)
	}

	require.Eventually(t, func() bool { return coord.PendingCount() == 2 }, time.Second, time.Millisecond)

	coord.Resolve("req-b", CoordinationResponse{Outcome: OutcomeDenied})
	coord.Resolve("req-a", CoordinationResponse{Outcome: OutcomeApproved})
	wg.Wait()

	require.Equal(t, OutcomeApproved, outcomes[0].Outcome)
	require.Equal(t, OutcomeDenied, outcomes[1].Outcome)
}

func TestCloseCancelsPending(t *testing.T) {
	coord := NewCoordinator(NopSink{})

	done := make(chan CoordinationResponse, 1)
	go func() {
		resp, _ := coord.EmitAndAwait(context.Background(), CoordinationRequest{ID: "pending", Kind: KindPermission}, time.Minute)
		done <- resp
	}()

	require.Eventually(t, func() bool { return coord.PendingCount() == 1 }, time.Second, time.Millisecond)
	coord.Close()

	resp := <-done
	require.Equal(t, OutcomeCancelled, resp.Outcome)

	_, err := coord.EmitAndAwait(context.Background(), CoordinationRequest{Kind: KindPermission}, time.Millisecond)
	require.ErrorIs(t, err, ErrCoordinatorClosed)
}

func TestCoordinatorFromContext(t *testing.T) {
	require.Nil(t, CoordinatorFromContext(context.Background()))

	coord := NewCoordinator(NopSink{})
	defer coord.Close()

	ctx := WithCoordinator(context.Background(), coord)
	require.Same(t, coord, CoordinatorFromContext(ctx))
}
