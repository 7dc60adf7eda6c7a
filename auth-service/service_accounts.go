package main

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// ServiceAccountCache loads backend service credentials from PostgreSQL into
// memory and refreshes periodically, so new accounts land without a restart.
type ServiceAccountCache struct {
	db       *sql.DB
	mu       sync.RWMutex
	accounts map[string]string // username -> password
	stopCh   chan struct{}
}

// NewServiceAccountCache loads the initial accounts and starts the refresh loop.
func NewServiceAccountCache(ctx context.Context, db *sql.DB, refreshEvery time.Duration) (*ServiceAccountCache, error) {
	c := &ServiceAccountCache{
		db:       db,
		accounts: make(map[string]string),
		stopCh:   make(chan struct{}),
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	go c.refreshLoop(refreshEvery)
	return c, nil
}

func (c *ServiceAccountCache) refresh(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, "SELECT username, password FROM service_accounts")
	if err != nil {
		return err
	}
	defer rows.Close()

	accounts := make(map[string]string)
	for rows.Next() {
		var username, password string
		if err := rows.Scan(&username, &password); err != nil {
			return err
		}
		accounts[username] = password
	}
	if err := rows.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.accounts = accounts
	c.mu.Unlock()

	slog.Info("Service accounts cache refreshed", "count", len(accounts))
	return nil
}

func (c *ServiceAccountCache) refreshLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.refresh(context.Background()); err != nil {
				slog.Error("Failed to refresh service accounts", "error", err)
			}
		case <-c.stopCh:
			return
		}
	}
}

// Authenticate checks username/password against the cached accounts.
func (c *ServiceAccountCache) Authenticate(username, password string) bool {
	c.mu.RLock()
	cached, ok := c.accounts[username]
	c.mu.RUnlock()
	return ok && cached == password
}

// Close stops the background refresh goroutine.
func (c *ServiceAccountCache) Close() {
	close(c.stopCh)
}
