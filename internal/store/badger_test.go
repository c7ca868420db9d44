package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/watsonu/WebChat-Furia/internal/chat"
)

func openTestLog(t *testing.T) *BadgerLog {
	t.Helper()
	log, err := OpenBadger("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestAppendAssignsIdentityAndTimestamp(t *testing.T) {
	req := require.New(t)
	log := openTestLog(t)

	before := time.Now().UTC()
	msg, err := log.Append(context.Background(), "Ana", "gl furia")
	req.NoError(err)
	req.NotEmpty(msg.ID)
	req.False(msg.CreatedAt.Before(before))

	// Read-your-own-write: the append is visible to a query issued after
	// Append returned.
	recent, err := log.Recent(context.Background(), 1)
	req.NoError(err)
	req.Len(recent, 1)
	req.Equal(msg, recent[0])
}

func TestAppendTrimsAndValidates(t *testing.T) {
	req := require.New(t)
	log := openTestLog(t)

	msg, err := log.Append(context.Background(), "  Ana  ", "  hello  ")
	req.NoError(err)
	req.Equal("Ana", msg.Author)
	req.Equal("hello", msg.Body)

	var vErr *chat.ValidationError
	_, err = log.Append(context.Background(), "", "hello")
	req.ErrorAs(err, &vErr)

	_, err = log.Append(context.Background(), strings.Repeat("a", chat.MaxAuthorLen+1), "hello")
	req.ErrorAs(err, &vErr)

	_, err = log.Append(context.Background(), "Ana", strings.Repeat("b", chat.MaxBodyLen+1))
	req.ErrorAs(err, &vErr)
}

func TestRecentOrderAndLimit(t *testing.T) {
	req := require.New(t)
	log := openTestLog(t)

	const total = 60
	for i := 0; i < total; i++ {
		_, err := log.Append(context.Background(), "Ana", fmt.Sprintf("message %d", i))
		req.NoError(err)
	}

	recent, err := log.Recent(context.Background(), 50)
	req.NoError(err)
	req.Len(recent, 50)
	req.Equal("message 59", recent[0].Body, "most recent first")
	req.Equal("message 10", recent[49].Body)

	for i := 1; i < len(recent); i++ {
		req.False(recent[i-1].CreatedAt.Before(recent[i].CreatedAt))
	}
}

func TestRecentWithFewerMessagesThanLimit(t *testing.T) {
	req := require.New(t)
	log := openTestLog(t)

	_, err := log.Append(context.Background(), "Ana", "only one")
	req.NoError(err)

	recent, err := log.Recent(context.Background(), 50)
	req.NoError(err)
	req.Len(recent, 1)

	empty, err := log.Recent(context.Background(), 0)
	req.NoError(err)
	req.Empty(empty)
}

func TestPingReflectsAvailability(t *testing.T) {
	req := require.New(t)
	log := openTestLog(t)

	req.NoError(log.Ping(context.Background()))

	req.NoError(log.Close())
	req.ErrorIs(log.Ping(context.Background()), chat.ErrStoreUnavailable)

	_, err := log.Append(context.Background(), "Ana", "too late")
	req.Error(err)
}

func TestSequenceRecoveredAcrossReopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	log, err := OpenBadger(dir, false, zap.NewNop())
	req.NoError(err)
	first, err := log.Append(context.Background(), "Ana", "before restart")
	req.NoError(err)
	req.NoError(log.Close())

	reopened, err := OpenBadger(dir, false, zap.NewNop())
	req.NoError(err)
	defer reopened.Close()

	second, err := reopened.Append(context.Background(), "Ana", "after restart")
	req.NoError(err)

	recent, err := reopened.Recent(context.Background(), 10)
	req.NoError(err)
	req.Len(recent, 2)
	req.Equal(second.ID, recent[0].ID, "post-restart append sorts after the survivor")
	req.Equal(first.ID, recent[1].ID)
}
