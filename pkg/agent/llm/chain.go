package llm

import "context"

// Middleware wraps a Client to add cross-cutting behavior such as
// retries or metrics. Middleware composes outermost-first.
type Middleware func(next Client) Client

// Chain composes middlewares around a base client. The first middleware
// in the list becomes the outermost wrapper.
func Chain(base Client, mws ...Middleware) Client {
	c := base
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// WrapClient adapts a completion function into a Client, delegating
// ModelName to the wrapped client. Useful for lightweight middlewares.
func WrapClient(inner Client, complete func(ctx context.Context, in Request) (Response, error)) Client {
	return &wrappedClient{inner: inner, complete: complete}
}

type wrappedClient struct {
	inner    Client
	complete func(ctx context.Context, in Request) (Response, error)
}

func (w *wrappedClient) Complete(ctx context.Context, in Request) (Response, error) {
	return w.complete(ctx, in)
}

func (w *wrappedClient) ModelName() string { return w.inner.ModelName() }
