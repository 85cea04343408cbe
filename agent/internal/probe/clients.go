package probe

import (
	"sync"
	"time"

	"github.com/obsidianstack/slaprobe/agent/internal/client"
	"github.com/obsidianstack/slaprobe/agent/internal/config"
)

// clientKey identifies the settings a client was built from. A reloaded
// target with different settings gets a fresh client.
type clientKey struct {
	target  config.Target
	timeout time.Duration
	connect time.Duration
}

type cachedClient struct {
	key clientKey
	c   *client.Client
}

// clients caches one HTTP client per target id.
type clients struct {
	mu sync.Mutex
	m  map[string]cachedClient
}

func newClients() *clients {
	return &clients{m: make(map[string]cachedClient)}
}

func (cs *clients) get(cfg *config.Config, tgt config.Target) (*client.Client, error) {
	key := clientKey{target: tgt, timeout: cfg.HTTPTimeout, connect: cfg.ConnectTimeout}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cached, ok := cs.m[tgt.ID]; ok && cached.key == key {
		return cached.c, nil
	}
	c, err := client.New(tgt, cfg.HTTPTimeout, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	cs.m[tgt.ID] = cachedClient{key: key, c: c}
	return c, nil
}
