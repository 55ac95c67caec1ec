package widget

import (
	"sort"
	"sync"
)

// Page tracks what one response has already emitted so shared assets are
// written at most once no matter how many widgets the page contains.
type Page struct {
	mu      sync.Mutex
	emitted map[string]struct{}
}

func NewPage() *Page {
	return &Page{emitted: make(map[string]struct{})}
}

// Enqueue marks name as emitted and reports whether this was the first time.
func (p *Page) Enqueue(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.emitted[name]; ok {
		return false
	}
	p.emitted[name] = struct{}{}
	return true
}

// Emitted lists everything enqueued so far.
func (p *Page) Emitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.emitted))
	for name := range p.emitted {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
