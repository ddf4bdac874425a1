package cache

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config sizes the Manager's two tiers. MemoryMaxBytes and DiskMaxBytes
// are the manager's total budgets; each is split evenly across the
// namespaces so that one noisy namespace cannot starve another.
type Config struct {
	DataDir          string
	MemoryMaxEntries int
	MemoryMaxBytes   int64
	DiskMaxBytes     int64
}

// DefaultMemoryMaxEntries bounds each namespace's L1 tier absent an
// explicit MemoryMaxEntries in Config.
const DefaultMemoryMaxEntries = 1000

type nsTier struct {
	mem  *memTier
	disk *diskTier
}

// Manager is the Cache Manager (C7): a namespaced, two-tier cache. It is
// safe for concurrent use; every tier guards its own state independently,
// so callers never need external locking.
type Manager struct {
	tiers map[Namespace]*nsTier
}

// New creates a Manager rooted at cfg.DataDir. Each namespace gets its
// own subdirectory under DataDir/cache so clearing one namespace's disk
// tier never touches another's files.
func New(cfg Config) (*Manager, error) {
	if cfg.MemoryMaxEntries <= 0 {
		cfg.MemoryMaxEntries = DefaultMemoryMaxEntries
	}
	perNsMemBytes := cfg.MemoryMaxBytes / int64(len(namespaces))
	perNsDiskBytes := cfg.DiskMaxBytes / int64(len(namespaces))

	m := &Manager{tiers: make(map[Namespace]*nsTier, len(namespaces))}
	for _, ns := range namespaces {
		mem := newMemTier(cfg.MemoryMaxEntries, perNsMemBytes)
		var disk *diskTier
		if cfg.DataDir != "" {
			d, err := newDiskTier(filepath.Join(cfg.DataDir, string(ns)), perNsDiskBytes)
			if err != nil {
				return nil, fmt.Errorf("init disk tier for namespace %s: %w", ns, err)
			}
			disk = d
		}
		m.tiers[ns] = &nsTier{mem: mem, disk: disk}
	}
	return m, nil
}

func (m *Manager) tier(ns Namespace) (*nsTier, error) {
	t, ok := m.tiers[ns]
	if !ok {
		return nil, fmt.Errorf("cache: unknown namespace %q", ns)
	}
	return t, nil
}

// Get checks L1 then L2, promoting an L2 hit into L1 before returning.
// The second return value is false on a miss in both tiers or an
// expired entry.
func (m *Manager) Get(ns Namespace, key string) ([]byte, bool) {
	t, err := m.tier(ns)
	if err != nil {
		return nil, false
	}

	if v, ok := t.mem.get(key); ok {
		return v, true
	}
	if t.disk == nil {
		return nil, false
	}
	v, ok := t.disk.get(key)
	if !ok {
		return nil, false
	}
	t.mem.set(key, v, DefaultTTL(ns))
	return v, true
}

// Set writes value to both tiers. ttl of zero uses the namespace's
// default TTL; pass a negative duration to store without expiry
// regardless of the namespace default.
func (m *Manager) Set(ns Namespace, key string, value []byte, ttl time.Duration) error {
	t, err := m.tier(ns)
	if err != nil {
		return err
	}
	effective := ttl
	if ttl == 0 {
		effective = DefaultTTL(ns)
	} else if ttl < 0 {
		effective = 0
	}

	t.mem.set(key, value, effective)
	if t.disk != nil {
		if err := t.disk.set(key, value, effective); err != nil {
			return fmt.Errorf("cache: disk set %s/%s: %w", ns, key, err)
		}
	}
	return nil
}

// Delete removes key from both tiers of ns.
func (m *Manager) Delete(ns Namespace, key string) error {
	t, err := m.tier(ns)
	if err != nil {
		return err
	}
	t.mem.delete(key)
	if t.disk != nil {
		t.disk.delete(key)
	}
	return nil
}

// Clear purges one namespace, or every namespace when ns is the zero
// value.
func (m *Manager) Clear(ns Namespace) error {
	if ns == "" {
		for _, n := range namespaces {
			if err := m.Clear(n); err != nil {
				return err
			}
		}
		return nil
	}
	t, err := m.tier(ns)
	if err != nil {
		return err
	}
	t.mem.clear()
	if t.disk != nil {
		if err := t.disk.clear(); err != nil {
			return fmt.Errorf("cache: disk clear %s: %w", ns, err)
		}
	}
	return nil
}

// Stats reports hits, misses, hit rate, size, and memory usage per tier,
// broken down by namespace.
func (m *Manager) Stats() []NamespaceStats {
	out := make([]NamespaceStats, 0, len(namespaces))
	for _, ns := range namespaces {
		t := m.tiers[ns]
		stats := NamespaceStats{Namespace: ns, Memory: t.mem.stats()}
		if t.disk != nil {
			stats.Disk = t.disk.stats()
		}
		out = append(out, stats)
	}
	return out
}

// NamespaceStat returns the single namespace's stats, used by callers
// (e.g. S6-style cache-hit assertions) that only care about one
// namespace rather than the full breakdown.
func (m *Manager) NamespaceStat(ns Namespace) (NamespaceStats, error) {
	t, err := m.tier(ns)
	if err != nil {
		return NamespaceStats{}, err
	}
	stats := NamespaceStats{Namespace: ns, Memory: t.mem.stats()}
	if t.disk != nil {
		stats.Disk = t.disk.stats()
	}
	return stats, nil
}
