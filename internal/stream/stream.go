// Package stream defines the append-only stream with consumer groups that
// carries both revocations and settlement requests.
package stream

import (
	"context"
	"errors"
	"time"
)

const (
	// NewMessages reads entries never delivered to the group.
	NewMessages = ">"
	// Backlog reads entries already delivered to this consumer but not acked.
	Backlog = "0"
	// Oldest starts a new group at the beginning of the stream.
	Oldest = "0"
	// Latest starts a new group after the last existing entry.
	Latest = "$"
)

// ErrNoGroup is returned when reading from a group that was never created.
var ErrNoGroup = errors.New("consumer group does not exist")

// Message is one stream entry.
type Message struct {
	ID     string
	Fields map[string]string
}

// Stream is an append-only, totally ordered log with independent consumer
// groups and at-least-once delivery. Entries read by a group stay pending
// until acked and can be claimed by another consumer after an idle period.
type Stream interface {
	// Append adds an entry and returns its ID.
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	// EnsureGroup creates group at start (Oldest or Latest), creating the
	// stream if needed. An existing group is left untouched.
	EnsureGroup(ctx context.Context, stream, group, start string) error
	// ReadGroup returns up to count entries. With NewMessages it waits up to
	// block for new entries and returns nothing on timeout; block <= 0 does
	// not wait. With Backlog it returns the consumer's pending entries
	// without waiting.
	ReadGroup(ctx context.Context, stream, group, consumer, start string, count int64, block time.Duration) ([]Message, error)
	// Ack removes entries from the group's pending list.
	Ack(ctx context.Context, stream, group string, ids ...string) error
	// Claim transfers pending entries idle for at least minIdle to consumer
	// and returns them.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error)
}
