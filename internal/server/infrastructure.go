package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nholik/ssh-sentinel/internal/infra"
)

const (
	inventoryTTL     = 30 * time.Second
	inventoryTimeout = 30 * time.Second
)

// inventoryCache serves the last successful AWS status for ttl.
type inventoryCache struct {
	inventory Inventory
	ttl       time.Duration
	now       func() time.Time

	mu      sync.Mutex
	status  infra.Status
	fetched time.Time
}

func newInventoryCache(inventory Inventory, ttl time.Duration) *inventoryCache {
	return &inventoryCache{inventory: inventory, ttl: ttl, now: time.Now}
}

func (c *inventoryCache) get(ctx context.Context, refresh bool) (infra.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !refresh && !c.fetched.IsZero() && c.now().Sub(c.fetched) < c.ttl {
		return c.status, nil
	}
	status, err := c.inventory.Status(ctx)
	if err != nil {
		return status, err
	}
	c.status = status
	c.fetched = c.now()
	return status, nil
}

func (s *Server) handleInfrastructure(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	ctx, cancel := context.WithTimeout(r.Context(), inventoryTimeout)
	defer cancel()

	status, err := s.inventory.get(ctx, refresh)
	if err != nil {
		s.logger.Error().Err(err).Msg("aws inventory failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}
