package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// WriterLease elects a single writer among chat-service instances through a
// TTL'd KV key. Per-room append order only holds under one writer, so
// followers drop ingest traffic until they win the lease.
type WriterLease struct {
	kv         jetstream.KeyValue
	instanceID string
	key        string
	beat       time.Duration
	held       atomic.Bool
	onAcquire  func()
}

// NewWriterLease binds to (or creates) the lease bucket. The bucket TTL is
// what expires a dead leader's key. onAcquire runs every time this instance
// wins the lease, before it starts accepting writes.
func NewWriterLease(js jetstream.JetStream, bucket, key string, ttl, beat time.Duration, onAcquire func()) (*WriterLease, error) {
	kv, err := js.CreateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lease bucket: %w", err)
	}

	b := make([]byte, 4)
	rand.Read(b)

	return &WriterLease{
		kv:         kv,
		instanceID: hex.EncodeToString(b),
		key:        key,
		beat:       beat,
		onAcquire:  onAcquire,
	}, nil
}

// Held reports whether this instance is the current writer.
func (l *WriterLease) Held() bool {
	return l.held.Load()
}

// Run drives the acquire/renew loop until ctx is done, then releases the
// lease if held.
func (l *WriterLease) Run(ctx context.Context) {
	ticker := time.NewTicker(l.beat)
	defer ticker.Stop()

	l.tryAcquire(ctx)

	for {
		select {
		case <-ctx.Done():
			l.release()
			return
		case <-ticker.C:
			if l.held.Load() {
				l.renew(ctx)
			} else {
				l.tryAcquire(ctx)
			}
		}
	}
}

func (l *WriterLease) tryAcquire(ctx context.Context) {
	if _, err := l.kv.Create(ctx, l.key, []byte(l.instanceID)); err == nil {
		l.won()
		return
	}

	// Create lost: check whether the standing key is actually ours, which
	// happens when the process restarts faster than the TTL.
	entry, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return
	}
	if string(entry.Value()) == l.instanceID {
		l.won()
	}
}

func (l *WriterLease) renew(ctx context.Context) {
	entry, err := l.kv.Get(ctx, l.key)
	if err != nil {
		slog.Warn("Writer lease lost: key expired", "instance_id", l.instanceID)
		l.held.Store(false)
		return
	}
	if holder := string(entry.Value()); holder != l.instanceID {
		slog.Warn("Writer lease lost: another instance holds it", "instance_id", l.instanceID, "holder", holder)
		l.held.Store(false)
		return
	}

	if _, err := l.kv.Update(ctx, l.key, []byte(l.instanceID), entry.Revision()); err != nil {
		slog.Warn("Failed to renew writer lease", "instance_id", l.instanceID, "error", err)
		l.held.Store(false)
	}
}

func (l *WriterLease) won() {
	slog.Info("Acquired writer lease", "instance_id", l.instanceID, "key", l.key)
	if l.onAcquire != nil {
		l.onAcquire()
	}
	l.held.Store(true)
}

func (l *WriterLease) release() {
	if !l.held.Load() {
		return
	}
	entry, err := l.kv.Get(context.Background(), l.key)
	if err == nil && string(entry.Value()) == l.instanceID {
		l.kv.Delete(context.Background(), l.key)
		slog.Info("Released writer lease", "instance_id", l.instanceID)
	}
	l.held.Store(false)
}
