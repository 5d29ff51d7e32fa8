package tools

import (
	"context"
	"fmt"
	"strings"

	"shopassist/pkg/logx"
)

// AdjustQuantity rounds a requested quantity up to the nearest valid
// multiple of the increment: ceil(max(q,n)/n) * n. The result is always a
// positive multiple of n that is >= q.
func AdjustQuantity(quantity, increment int) int {
	if increment < 1 {
		return quantity
	}
	if quantity < increment {
		quantity = increment
	}
	return ((quantity + increment - 1) / increment) * increment
}

// Interceptor rewrites cart-mutation arguments before dispatch so every
// added line item's quantity is a valid multiple of its increment rule.
type Interceptor struct {
	src      IncrementSource
	resolver *ProductResolver
	logger   *logx.Logger
}

// NewInterceptor creates a quantity-increment interceptor. resolver may be
// nil, disabling the catalogue-search fallback.
func NewInterceptor(src IncrementSource, resolver *ProductResolver, logger *logx.Logger) *Interceptor {
	return &Interceptor{src: src, resolver: resolver, logger: logger}
}

// EnforceIncrements mutates the add_items entries of a cart-update call in
// place. A missing identifier on an item is fatal to the whole call; any
// other per-item failure is logged and that item's quantity left alone.
func (ic *Interceptor) EnforceIncrements(ctx context.Context, args map[string]any) *Error {
	rawItems, ok := args[argAddItems].([]any)
	if !ok || len(rawItems) == 0 {
		return nil
	}

	for i, rawItem := range rawItems {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}

		variantID, productID, title := itemIdentifiers(item)
		if variantID == "" && productID == "" {
			return &Error{
				Kind: ErrValidation,
				Data: fmt.Sprintf("add_items[%d] has neither a variant nor a product identifier", i),
			}
		}

		rule, err := ic.lookupRule(ctx, variantID, productID, title)
		if err != nil {
			ic.logger.Warn("increment lookup failed for item %d (variant=%q product=%q): %v; leaving quantity unchanged", i, variantID, productID, err)
			continue
		}
		if rule == nil {
			continue
		}

		quantity := intArg(item, argQuantity, 1)
		adjusted := AdjustQuantity(quantity, rule.Increment)
		if adjusted != quantity {
			ic.logger.Info("🔢 adjusted quantity for %s from %d to %d (increment %d)",
				firstNonEmpty(variantID, productID), quantity, adjusted, rule.Increment)
			item[argQuantity] = adjusted
		}
	}
	return nil
}

// lookupRule checks the variant identifier first, then the product
// identifier, then falls back to catalogue-search resolution and retries
// against the resolved identifiers.
func (ic *Interceptor) lookupRule(ctx context.Context, variantID, productID, title string) (*IncrementRule, error) {
	if variantID != "" {
		rule, err := ic.src.LookupIncrement(ctx, variantID)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}
	if productID != "" {
		rule, err := ic.src.LookupIncrement(ctx, productID)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}
	if title != "" {
		rule, err := ic.src.LookupIncrementByTitle(ctx, title)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}

	if ic.resolver == nil {
		return nil, nil
	}
	resolved, err := ic.resolver.Resolve(ctx, firstNonEmpty(title, variantID, productID))
	if err != nil || resolved == nil {
		return nil, err
	}
	for _, id := range []string{resolved.VariantID, resolved.ProductID} {
		if id == "" {
			continue
		}
		rule, err := ic.src.LookupIncrement(ctx, id)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			return rule, nil
		}
	}
	if resolved.Title != "" {
		return ic.src.LookupIncrementByTitle(ctx, resolved.Title)
	}
	return nil, nil
}

// itemIdentifiers extracts the variant ID, product ID, and title from a
// line item, normalizing the field-name variants providers use
// (product_variant_id vs variant_id vs nested item.id).
func itemIdentifiers(item map[string]any) (variantID, productID, title string) {
	variantID, _ = item[argVariantIDPV].(string)
	if variantID == "" {
		variantID, _ = item[argVariantID].(string)
	}
	if variantID == "" {
		if nested, ok := item["item"].(map[string]any); ok {
			variantID, _ = nested["id"].(string)
		}
	}
	productID, _ = item[argProductID].(string)
	title, _ = item["title"].(string)
	return variantID, productID, title
}

// intArg reads a numeric argument that may arrive as float64 (JSON) or int.
func intArg(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ResolvedProduct is the outcome of a catalogue-search fallback.
type ResolvedProduct struct {
	ProductID string
	VariantID string
	Title     string
}

// ProductResolver resolves a product through the storefront catalogue
// search tool when no increment rule matches the identifiers on hand.
type ProductResolver struct {
	storefront *StorefrontAdapter
	logger     *logx.Logger
}

// NewProductResolver creates a resolver backed by the storefront adapter.
func NewProductResolver(storefront *StorefrontAdapter, logger *logx.Logger) *ProductResolver {
	return &ProductResolver{storefront: storefront, logger: logger}
}

// Resolve searches the catalogue and returns the first matching product's
// identifiers, or nil when nothing matched.
func (r *ProductResolver) Resolve(ctx context.Context, query string) (*ResolvedProduct, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	result := r.storefront.Call(ctx, ToolSearchCatalog, map[string]any{"query": query})
	if result.IsErr() {
		return nil, fmt.Errorf("catalogue search for %q: %s", query, result.Err.Data)
	}

	products, ok := result.Content["products"].([]any)
	if !ok || len(products) == 0 {
		return nil, nil
	}
	first, ok := products[0].(map[string]any)
	if !ok {
		return nil, nil
	}

	resolved := &ResolvedProduct{}
	resolved.ProductID, _ = first[argProductID].(string)
	if resolved.ProductID == "" {
		resolved.ProductID, _ = first["id"].(string)
	}
	resolved.Title, _ = first["title"].(string)
	if variants, ok := first["variants"].([]any); ok && len(variants) > 0 {
		if v, ok := variants[0].(map[string]any); ok {
			resolved.VariantID, _ = v["id"].(string)
		}
	}
	return resolved, nil
}
