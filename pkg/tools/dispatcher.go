package tools

import (
	"context"
	"fmt"
	"time"

	"shopassist/pkg/logx"
)

// Dispatcher routes tool calls for one conversation to the right adapter,
// applying the quantity-increment interceptor and cart continuity to cart
// tools on the way through. The merged catalogue tags every tool with its
// owning provider, so routing is a map lookup with precedence
// customer > storefront > local on name collisions.
type Dispatcher struct {
	storefront  *StorefrontAdapter
	customer    *CustomerAdapter
	local       *LocalAdapter
	interceptor *Interceptor
	continuity  *CartContinuity
	logger      *logx.Logger

	deniedTools []string
	catalog     *Catalog
}

// DispatcherDeps carries everything a Dispatcher needs. All fields are
// required except Interceptor and Continuity, which disable their
// respective behaviors when nil.
type DispatcherDeps struct {
	Storefront  *StorefrontAdapter
	Customer    *CustomerAdapter
	Local       *LocalAdapter
	Interceptor *Interceptor
	Continuity  *CartContinuity
	DeniedTools []string
	Logger      *logx.Logger
}

// NewDispatcher creates a dispatcher. Connect must be called before Tools
// or Call.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = logx.NewLogger("dispatcher")
	}
	return &Dispatcher{
		storefront:  deps.Storefront,
		customer:    deps.Customer,
		local:       deps.Local,
		interceptor: deps.Interceptor,
		continuity:  deps.Continuity,
		deniedTools: deps.DeniedTools,
		logger:      logger,
	}
}

// Connect fetches both remote catalogues, normalizes them, and merges with
// the local tool set. Merge order defines collision precedence:
// customer > storefront > local.
func (d *Dispatcher) Connect(ctx context.Context) error {
	rawStorefront, err := d.storefront.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list storefront tools: %w", err)
	}

	var rawCustomer []any
	if d.customer != nil {
		rawCustomer, err = d.customer.ListTools(ctx)
		if err != nil {
			// The customer endpoint being down must not take the whole
			// assistant with it; storefront tools still work.
			d.logger.Warn("customer tool catalogue unavailable: %v", err)
		}
	}

	var localDescriptors []ToolDescriptor
	if d.local != nil {
		localDescriptors = d.local.Descriptors()
	}

	d.catalog = NewCatalog(
		localDescriptors,
		NormalizeDescriptors(rawStorefront, ProviderStorefront, d.deniedTools),
		NormalizeDescriptors(rawCustomer, ProviderCustomer, d.deniedTools),
	)

	d.logger.Info("🔌 connected tool catalogue: %d tools", d.catalog.Len())
	return nil
}

// Tools returns the merged catalogue for the LLM.
func (d *Dispatcher) Tools() []ToolDescriptor {
	if d.catalog == nil {
		return nil
	}
	return d.catalog.List()
}

// Call executes a named tool. Every failure comes back inside the Result;
// the caller never needs to distinguish adapter failures by error type.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) Result {
	if d.catalog == nil {
		return Errf(ErrInternal, "dispatcher not connected")
	}
	desc, ok := d.catalog.Get(name)
	if !ok {
		d.logger.Error("tool %s requested but not in catalogue", name)
		return Errf(ErrToolNotFound, "tool %s is not available", name)
	}
	if args == nil {
		args = map[string]any{}
	}

	// Cross-cutting cart behavior applies regardless of which provider
	// owns the tool name this session.
	if name == ToolUpdateCart && d.interceptor != nil {
		if ferr := d.interceptor.EnforceIncrements(ctx, args); ferr != nil {
			return Result{Err: ferr}
		}
	}
	if isCartTool(name) && d.continuity != nil {
		d.continuity.InjectCartID(ctx, args)
	}

	start := time.Now()
	result := d.route(ctx, desc, name, args)
	elapsed := time.Since(start)

	status := "ok"
	if result.IsErr() {
		status = string(result.Err.Kind)
	}
	recordToolCall(name, desc.Provider, status, elapsed.Seconds())
	d.logger.Debug("tool %s (%s) completed in %.3fs status=%s", name, desc.Provider, elapsed.Seconds(), status)

	if isCartTool(name) && !result.IsErr() && d.continuity != nil {
		d.continuity.Absorb(ctx, result.Content)
	}
	return result
}

func (d *Dispatcher) route(ctx context.Context, desc ToolDescriptor, name string, args map[string]any) Result {
	switch desc.Provider {
	case ProviderCustomer:
		return d.customer.Call(ctx, name, args)
	case ProviderStorefront:
		return d.storefront.Call(ctx, name, args)
	case ProviderLocal:
		return d.local.Call(ctx, name, args)
	default:
		return Errf(ErrInternal, "tool %s has unknown provider %q", name, desc.Provider)
	}
}
