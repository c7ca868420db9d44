// Package store persists the chat message log in an embedded BadgerDB. The
// log is append-only: messages gain an id and timestamp exactly once on
// append and are never mutated or deleted by the server.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/watsonu/WebChat-Furia/internal/chat"
)

// msgPrefix namespaces message keys. Keys are the prefix plus a zero-padded
// commit sequence, so Badger's key order is exactly append order.
const msgPrefix = "msg:"

// BadgerLog is a MessageLog backed by an embedded BadgerDB.
type BadgerLog struct {
	db     *badger.DB
	logger *zap.Logger

	mu      sync.Mutex
	lastSeq uint64
}

// OpenBadger opens (or creates) the message log at path. With inMemory set
// the log lives in RAM only, which the tests and local runs use.
func OpenBadger(path string, inMemory bool, logger *zap.Logger) (*BadgerLog, error) {
	opts := badger.DefaultOptions(path).
		WithInMemory(inMemory).
		WithLogger(nil)
	if inMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}

	log := &BadgerLog{db: db, logger: logger}
	if err := log.recoverLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return log, nil
}

// recoverLastSeq finds the highest committed sequence so appends continue
// from where the previous process stopped.
func (l *BadgerLog) recoverLastSeq() error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append([]byte(msgPrefix), 0xFF)
		it.Seek(seekKey)
		if !it.ValidForPrefix([]byte(msgPrefix)) {
			return nil
		}

		key := string(it.Item().Key())
		seq, err := strconv.ParseUint(strings.TrimPrefix(key, msgPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt message key %q: %w", key, err)
		}
		l.lastSeq = seq
		return nil
	})
}

// Append validates, assigns identity and timestamp, and commits the message.
// Appends are serialized so the stored key order is the commit order.
func (l *BadgerLog) Append(ctx context.Context, author, body string) (chat.Message, error) {
	author, body, err := chat.ValidateContent(author, body)
	if err != nil {
		return chat.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	if l.db.IsClosed() {
		return chat.Message{}, fmt.Errorf("%w: database closed", chat.ErrStoreUnavailable)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := chat.Message{
		ID:        uuid.NewString(),
		Author:    author,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("marshal message: %w", err)
	}

	seq := l.lastSeq + 1
	key := fmt.Sprintf("%s%020d", msgPrefix, seq)
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: append: %v", chat.ErrStoreUnavailable, err)
	}
	l.lastSeq = seq
	return msg, nil
}

// Recent returns at most limit messages, most recent first.
func (l *BadgerLog) Recent(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	if l.db.IsClosed() {
		return nil, fmt.Errorf("%w: database closed", chat.ErrStoreUnavailable)
	}

	messages := make([]chat.Message, 0, limit)
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchSize = limit

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append([]byte(msgPrefix), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix([]byte(msgPrefix)) && len(messages) < limit; it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var msg chat.Message
				if err := json.Unmarshal(v, &msg); err != nil {
					return fmt.Errorf("unmarshal message %q: %w", it.Item().Key(), err)
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: recent: %v", chat.ErrStoreUnavailable, err)
	}
	return messages, nil
}

// Ping reports whether the log can serve a read transaction right now.
func (l *BadgerLog) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	if l.db.IsClosed() {
		return fmt.Errorf("%w: database closed", chat.ErrStoreUnavailable)
	}
	if err := l.db.View(func(*badger.Txn) error { return nil }); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	return nil
}

// Close flushes and closes the underlying database.
func (l *BadgerLog) Close() error {
	if err := l.db.Close(); err != nil {
		l.logger.Warn("badger close", zap.Error(err))
		return err
	}
	return nil
}
