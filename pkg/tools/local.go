package tools

import (
	"context"
	"fmt"

	"shopassist/pkg/logx"
)

// LocalTool is an in-process tool with no network call.
type LocalTool interface {
	// Name returns the tool's identifier.
	Name() string
	// Descriptor returns the tool's catalogue entry.
	Descriptor() ToolDescriptor
	// Exec executes the tool with the given arguments.
	Exec(ctx context.Context, args map[string]any) Result
}

// LocalAdapter dispatches by name to registered in-process handlers.
type LocalAdapter struct {
	tools  map[string]LocalTool
	order  []string
	logger *logx.Logger
}

// NewLocalAdapter creates an adapter over the given tools. Registration
// order is preserved in the catalogue.
func NewLocalAdapter(logger *logx.Logger, localTools ...LocalTool) *LocalAdapter {
	adapter := &LocalAdapter{tools: make(map[string]LocalTool, len(localTools)), logger: logger}
	for _, tool := range localTools {
		if _, exists := adapter.tools[tool.Name()]; exists {
			continue
		}
		adapter.tools[tool.Name()] = tool
		adapter.order = append(adapter.order, tool.Name())
	}
	return adapter
}

// Descriptors returns catalogue entries for all registered tools.
func (a *LocalAdapter) Descriptors() []ToolDescriptor {
	descriptors := make([]ToolDescriptor, 0, len(a.order))
	for _, name := range a.order {
		descriptors = append(descriptors, a.tools[name].Descriptor())
	}
	return descriptors
}

// Call executes a registered local tool.
func (a *LocalAdapter) Call(ctx context.Context, name string, args map[string]any) Result {
	tool, ok := a.tools[name]
	if !ok {
		return Errf(ErrToolNotFound, "no local tool named %s", name)
	}
	return tool.Exec(ctx, args)
}

// ValidateQuantityTool looks up the purchase-increment rule for a product
// so the model can tell the customer about quantity constraints before
// they hit the cart. Lookup order: product id, variant id, title, then the
// storefront catalogue-search fallback.
type ValidateQuantityTool struct {
	src      IncrementSource
	resolver *ProductResolver
	logger   *logx.Logger
}

// NewValidateQuantityTool creates the quantity-validation tool.
func NewValidateQuantityTool(src IncrementSource, resolver *ProductResolver, logger *logx.Logger) *ValidateQuantityTool {
	return &ValidateQuantityTool{src: src, resolver: resolver, logger: logger}
}

func (t *ValidateQuantityTool) Name() string { return ToolValidateQuantity }

func (t *ValidateQuantityTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        ToolValidateQuantity,
		Description: "Look up the purchase-quantity increment for a product or variant. Returns the required multiple, or no constraint if the product has none.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				argProductID: map[string]any{"type": "string", "description": "Product identifier"},
				argVariantID: map[string]any{"type": "string", "description": "Variant identifier"},
				"title":      map[string]any{"type": "string", "description": "Product title, used when no identifier is known"},
			},
		},
		Provider: ProviderLocal,
	}
}

func (t *ValidateQuantityTool) Exec(ctx context.Context, args map[string]any) Result {
	productID, _ := args[argProductID].(string)
	variantID, _ := args[argVariantID].(string)
	title, _ := args["title"].(string)

	rule, err := t.lookup(ctx, productID, variantID, title)
	if err != nil {
		return Errf(ErrInternal, "increment lookup: %v", err)
	}
	if rule == nil {
		return OK(map[string]any{"constrained": false})
	}
	return OK(map[string]any{
		"constrained": true,
		"increment":   rule.Increment,
		"entity_id":   rule.EntityID,
		"entity_type": rule.EntityType,
	})
}

func (t *ValidateQuantityTool) lookup(ctx context.Context, productID, variantID, title string) (*IncrementRule, error) {
	for _, id := range []string{productID, variantID} {
		if id == "" {
			continue
		}
		rule, err := t.src.LookupIncrement(ctx, id)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}
	if title != "" {
		rule, err := t.src.LookupIncrementByTitle(ctx, title)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}

	// No local match: resolve through the catalogue and retry.
	if t.resolver == nil {
		return nil, nil
	}
	resolved, err := t.resolver.Resolve(ctx, firstNonEmpty(title, productID, variantID))
	if err != nil || resolved == nil {
		return nil, err
	}
	for _, id := range []string{resolved.ProductID, resolved.VariantID} {
		if id == "" {
			continue
		}
		rule, lookupErr := t.src.LookupIncrement(ctx, id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if rule != nil {
			return rule, nil
		}
	}
	return nil, nil
}

// RequestHumanTool records the customer's intent to talk to a person. It
// returns a custom marker; the channel handler opens the actual ticket.
type RequestHumanTool struct{}

func (t *RequestHumanTool) Name() string { return ToolRequestHuman }

func (t *RequestHumanTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        ToolRequestHuman,
		Description: "Hand the conversation to a human agent. Use when the customer explicitly asks for a person or the request is beyond the assistant's abilities.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string", "description": "Short summary of why the customer needs a human"},
			},
		},
		Provider: ProviderLocal,
	}
}

func (t *RequestHumanTool) Exec(_ context.Context, args map[string]any) Result {
	reason, _ := args["reason"].(string)
	return CustomResult(map[string]any{
		"action": "handoff",
		"reason": reason,
	})
}

// SendOrderFormTool asks the channel to deliver the order-form document.
// WhatsApp only; the web widget has no document delivery.
type SendOrderFormTool struct{}

func (t *SendOrderFormTool) Name() string { return ToolSendOrderForm }

func (t *SendOrderFormTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        ToolSendOrderForm,
		Description: "Send the customer the order form document. Use when the customer wants to place a bulk or recurring order.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Provider: ProviderLocal,
	}
}

func (t *SendOrderFormTool) Exec(_ context.Context, _ map[string]any) Result {
	return CustomResult(map[string]any{
		"action": "order_form",
	})
}

// BuildLocalTools constructs the local tool set named in a channel's
// configuration.
func BuildLocalTools(names []string, src IncrementSource, resolver *ProductResolver, logger *logx.Logger) ([]LocalTool, error) {
	var built []LocalTool
	for _, name := range names {
		switch name {
		case ToolValidateQuantity:
			built = append(built, NewValidateQuantityTool(src, resolver, logger))
		case ToolRequestHuman:
			built = append(built, &RequestHumanTool{})
		case ToolSendOrderForm:
			built = append(built, &SendOrderFormTool{})
		default:
			return nil, fmt.Errorf("unknown local tool %q", name)
		}
	}
	return built, nil
}
