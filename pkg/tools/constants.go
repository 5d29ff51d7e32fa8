package tools

// Tool name constants - use these instead of magic strings to prevent
// typos and enable compile-time checking.
const (
	// Storefront tools (remote, unauthenticated).
	ToolSearchCatalog = "search_shop_catalog"
	ToolGetCart       = "get_cart"
	ToolUpdateCart    = "update_cart"

	// Local tools (in-process).
	ToolValidateQuantity = "validate_quantity"
	ToolRequestHuman     = "request_human"
	ToolSendOrderForm    = "send_order_form"
)

// Argument keys the dispatcher and interceptor normalize across providers.
const (
	argCartID      = "cart_id"
	argCartIDAlt   = "cartId"
	argAddItems    = "add_items"
	argQuantity    = "quantity"
	argProductID   = "product_id"
	argVariantID   = "variant_id"
	argVariantIDPV = "product_variant_id"
)

// cartTools are the storefront tools that read or mutate the cart; cart
// continuity applies to all of them, quantity enforcement only to updates
// that add line items.
func isCartTool(name string) bool {
	return name == ToolGetCart || name == ToolUpdateCart
}
