package unifiedllm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// StreamMiddleware wraps a streaming provider call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client holds registered provider adapters, routes requests by model
// prefix, and applies middleware.
type Client struct {
	providers  map[string]ProviderAdapter
	fallback   func(provider string) (ProviderAdapter, error)
	middleware []Middleware
	streamMW   []StreamMiddleware
	mu         sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithFallback installs a factory used for providers that were not registered
// explicitly, typically the gollm adapter for "provider/model" names.
func WithFallback(factory func(provider string) (ProviderAdapter, error)) ClientOption {
	return func(c *Client) {
		c.fallback = factory
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithStreamMiddleware adds stream middleware to the client.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
}

// Resolve returns the adapter and route that would serve model. It fails
// with a ConfigurationError when the prefix is unknown or no adapter is
// available, so callers can validate before starting work.
func (c *Client) Resolve(model string) (ProviderAdapter, Route, error) {
	route, err := ResolveModel(model)
	if err != nil {
		return nil, Route{}, err
	}
	adapter, err := c.adapterFor(route.Provider)
	if err != nil {
		return nil, Route{}, err
	}
	return adapter, route, nil
}

func (c *Client) adapterFor(provider string) (ProviderAdapter, error) {
	c.mu.RLock()
	adapter, ok := c.providers[provider]
	fallback := c.fallback
	c.mu.RUnlock()
	if ok {
		return adapter, nil
	}
	if fallback == nil {
		return nil, NewConfigurationError("provider %q is not configured", provider)
	}
	adapter, err := fallback(provider)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "provider " + provider + " unavailable", Cause: err}}
	}
	c.RegisterProvider(provider, adapter)
	return adapter, nil
}

// resolveProvider determines which provider adapter to use for a request and
// rewrites the request model to the backend's model id.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, Request, error) {
	if req.Provider != "" {
		adapter, err := c.adapterFor(req.Provider)
		return adapter, req, err
	}
	adapter, route, err := c.Resolve(req.Model)
	if err != nil {
		return nil, req, err
	}
	req.Provider = route.Provider
	req.Model = route.Model
	return adapter, req, nil
}

// Complete sends a blocking request through middleware to the resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, req, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Stream sends a streaming request through middleware to the resolved provider.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, req, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return adapter.Stream(ctx, r)
	}

	for i := len(c.streamMW) - 1; i >= 0; i-- {
		mw := c.streamMW[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LoggingMiddleware logs every blocking call with its duration and outcome.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		attrs := []any{"provider", req.Provider, "model", req.Model, "duration", time.Since(start)}
		if err != nil {
			logger.WarnContext(ctx, "llm call failed", append(attrs, "error_kind", ErrorKind(err), "error", err)...)
			return resp, err
		}
		logger.DebugContext(ctx, "llm call complete", append(attrs, "output_tokens", resp.Usage.OutputTokens)...)
		return resp, nil
	}
}

// StreamLoggingMiddleware logs stream setup failures.
func StreamLoggingMiddleware(logger *slog.Logger) StreamMiddleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		ch, err := next(ctx, req)
		if err != nil {
			logger.WarnContext(ctx, "llm stream failed", "provider", req.Provider, "model", req.Model, "error_kind", ErrorKind(err), "error", err)
			return nil, err
		}
		logger.DebugContext(ctx, "llm stream opened", "provider", req.Provider, "model", req.Model)
		return ch, nil
	}
}
