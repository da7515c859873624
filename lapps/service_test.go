package lapps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceDeliversToMessageHandler(t *testing.T) {
	inst := &fakeInstance{
		respond: func(export string, payload []byte) ([]byte, error) {
			return append([]byte("echo:"), payload...), nil
		},
	}
	service, sender := NewLappService("notes", inst, nil)
	go service.Run()
	defer sender.stop(t.Context())

	resp, err := sender.Deliver(t.Context(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:ping"), resp)
	assert.Equal(t, []string{serviceMessageExport}, inst.calls)
}

func TestServiceSerializesDeliveries(t *testing.T) {
	// Two concurrent deliveries must never overlap inside the guest.
	inFlight := make(chan struct{}, 2)
	inst := &fakeInstance{
		respond: func(string, []byte) ([]byte, error) {
			inFlight <- struct{}{}
			defer func() { <-inFlight }()
			assert.Len(t, inFlight, 1)
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		},
	}
	service, sender := NewLappService("notes", inst, nil)
	go service.Run()
	defer sender.stop(t.Context())

	done := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := sender.Deliver(t.Context(), []byte("m"))
			done <- err
		}()
	}
	for range 2 {
		require.NoError(t, <-done)
	}
}

func TestServiceStopAcknowledges(t *testing.T) {
	service, sender := NewLappService("notes", &fakeInstance{}, nil)
	go service.Run()

	assert.True(t, sender.stop(t.Context()))
}

func TestServiceDeliverHonorsContext(t *testing.T) {
	// The actor was never started, so the send blocks until the
	// context expires once the mailbox is full.
	_, sender := NewLappService("notes", &fakeInstance{}, nil)
	for range cap(sender.ch) {
		sender.ch <- deliverMsg{}
	}

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := sender.Deliver(ctx, []byte("m"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
