package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watsonu/WebChat-Furia/internal/metrics"
)

func newTestRegistry(queueSize int) *Registry {
	return NewRegistry("shared-secret", queueSize, metrics.NewRegistry())
}

func TestAuthenticateExactMatchOnly(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(8)

	req.NoError(r.Authenticate("shared-secret"))
	req.ErrorIs(r.Authenticate("shared-secret "), ErrAuthRejected)
	req.ErrorIs(r.Authenticate("Shared-Secret"), ErrAuthRejected)
	req.ErrorIs(r.Authenticate(""), ErrAuthRejected)
}

func TestRegisterAssignsUniqueIDs(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(8)

	a := r.Register()
	b := r.Register()
	req.NotEqual(a.ID(), b.ID())
	req.Equal(2, r.Count())
}

func TestUnregisterIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(8)

	c := r.Register()
	req.Equal(1, r.Count())

	r.Unregister(c)
	r.Unregister(c)
	r.Unregister(nil)
	req.Equal(0, r.Count())
}

func TestSnapshotUnaffectedByLaterMutation(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(8)

	a := r.Register()
	b := r.Register()

	snapshot := r.Snapshot()
	req.Len(snapshot, 2)

	r.Unregister(a)
	req.Len(snapshot, 2, "snapshot keeps the membership it was taken with")
	req.Equal(1, r.Count())

	// Delivery to the still-registered member works from the old snapshot.
	for _, c := range snapshot {
		if c.ID() == b.ID() {
			req.True(c.Deliver([]byte("hi")))
		}
	}
}

func TestDeliverReportsFullQueue(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(1)

	c := r.Register()
	req.True(c.Deliver([]byte("one")))
	req.False(c.Deliver([]byte("two")), "full queue must not block or drop silently")
}

func TestDeliverAfterUnregisterIsSafe(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(4)

	c := r.Register()
	r.Unregister(c)
	req.False(c.Deliver([]byte("late")))
}

func TestUnregisterClosesOutbound(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(4)

	c := r.Register()
	req.True(c.Deliver([]byte("queued")))
	r.Unregister(c)

	frame, ok := <-c.Outbound()
	req.True(ok, "frames queued before unregister stay readable")
	req.Equal([]byte("queued"), frame)

	_, ok = <-c.Outbound()
	req.False(ok, "outbound channel is closed after unregister")
}
