package services

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// cacheEntry hält einen Wert mit Ablaufzeitpunkt.
type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Cache ist ein injizierbarer TTL-Key/Value-Cache für Extraktions-
// Ergebnisse. Kein prozessweiter statischer Zustand: jede Instanz hat
// ihren eigenen Sweeper und kann pro Testlauf neu erstellt werden.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	logger  *zap.Logger
	stop    chan struct{}
	once    sync.Once
}

// NewCache erstellt einen Cache mit Standard-TTL.
func NewCache(ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Get liefert einen nicht abgelaufenen Wert.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set speichert einen Wert mit der Standard-TTL des Caches.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL speichert einen Wert mit expliziter TTL.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Clear leert den Cache vollständig.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len gibt die Anzahl der Einträge zurück (inklusive abgelaufener).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep entfernt abgelaufene Einträge und gibt deren Anzahl zurück.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 && c.logger != nil {
		c.logger.Debug("Cache-Sweep abgeschlossen",
			zap.Int("removed", removed),
			zap.Int("remaining", len(c.entries)))
	}
	return removed
}

// StartSweeper startet den Hintergrund-Sweep im gegebenen Intervall.
func (c *Cache) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop beendet den Hintergrund-Sweep.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stop) })
}
