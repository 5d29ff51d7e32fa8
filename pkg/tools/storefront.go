package tools

import (
	"context"

	"shopassist/pkg/logx"
)

// StorefrontAdapter calls the public storefront tool endpoint. Calls carry
// no credentials and there is no auth-escalation path; transport failures
// come back as internal errors for the driver to feed to the model.
type StorefrontAdapter struct {
	rpc    *RPCClient
	logger *logx.Logger
}

// NewStorefrontAdapter creates the storefront adapter.
func NewStorefrontAdapter(rpc *RPCClient, logger *logx.Logger) *StorefrontAdapter {
	return &StorefrontAdapter{rpc: rpc, logger: logger}
}

// ListTools fetches the storefront's raw tool descriptors.
func (a *StorefrontAdapter) ListTools(ctx context.Context) ([]any, error) {
	return a.rpc.ListTools(ctx, "")
}

// Call invokes a named storefront tool.
func (a *StorefrontAdapter) Call(ctx context.Context, name string, args map[string]any) Result {
	response, err := a.rpc.CallTool(ctx, name, args, "")
	if err != nil {
		a.logger.Error("storefront tool %s failed: %v", name, err)
		return Errf(ErrInternal, "storefront tool %s: %v", name, err)
	}
	return OK(response)
}
