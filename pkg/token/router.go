package token

import "sync"

// Handler processes a received Token of a specific type.
type Handler func(tok *Token) error

// Router dispatches received tokens to registered handlers by TokenType,
// per spec.md §4.E "Routing".
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register binds handler to tokenType, replacing any existing binding.
func (r *Router) Register(tokenType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tokenType] = handler
}

// Dispatch invokes the handler registered for tok.Meta.TokenType, if any.
// Returns false if no handler is registered.
func (r *Router) Dispatch(tok *Token) (bool, error) {
	r.mu.RLock()
	h, ok := r.handlers[tok.Meta.TokenType]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, h(tok)
}
