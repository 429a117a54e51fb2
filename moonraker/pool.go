package moonraker

import "sync"

// Pool hands out one Client per Moonraker address
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
	opts    []Option
}

// NewPool creates a pool whose clients are built with opts
func NewPool(opts ...Option) *Pool {
	return &Pool{
		clients: make(map[string]*Client),
		opts:    opts,
	}
}

// Get returns the client for baseURL, creating it on first use
func (p *Pool) Get(baseURL string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[baseURL]
	if !ok {
		c = New(baseURL, p.opts...)
		p.clients[baseURL] = c
	}
	return c
}

// Drop forgets the client for baseURL
func (p *Pool) Drop(baseURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, baseURL)
}
