package tools

// Provider identifies which adapter owns a tool. The tag is assigned at
// catalogue-merge time so dispatch is a single map lookup instead of a
// membership scan across provider lists.
type Provider string

const (
	ProviderStorefront Provider = "storefront"
	ProviderCustomer   Provider = "customer"
	ProviderLocal      Provider = "local"
)

// ToolDescriptor is the normalized description of one callable tool,
// built fresh per conversation session from provider responses and never
// persisted.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Provider    Provider
}

// NormalizeDescriptors converts a provider's raw tools/list payload into
// descriptors: entries whose name is on the deny-list are removed and the
// inputSchema/input_schema key variance is unified. A malformed raw list
// yields an empty result, never an error.
func NormalizeDescriptors(raw []any, provider Provider, denied []string) []ToolDescriptor {
	deniedSet := make(map[string]bool, len(denied))
	for _, name := range denied {
		deniedSet[name] = true
	}

	var descriptors []ToolDescriptor
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" || deniedSet[name] {
			continue
		}
		description, _ := m["description"].(string)

		schema, _ := m["inputSchema"].(map[string]any)
		if schema == nil {
			schema, _ = m["input_schema"].(map[string]any)
		}

		descriptors = append(descriptors, ToolDescriptor{
			Name:        name,
			Description: description,
			InputSchema: schema,
			Provider:    provider,
		})
	}
	return descriptors
}

// Catalog is the merged, provider-tagged tool catalogue for one session.
type Catalog struct {
	byName  map[string]ToolDescriptor
	ordered []ToolDescriptor
}

// NewCatalog merges descriptor lists. Later lists win name collisions, so
// callers pass providers in ascending precedence: local, storefront,
// customer.
func NewCatalog(lists ...[]ToolDescriptor) *Catalog {
	c := &Catalog{byName: make(map[string]ToolDescriptor)}
	for _, list := range lists {
		for _, desc := range list {
			if _, exists := c.byName[desc.Name]; exists {
				// Replace in place to preserve first-seen ordering.
				for i := range c.ordered {
					if c.ordered[i].Name == desc.Name {
						c.ordered[i] = desc
						break
					}
				}
			} else {
				c.ordered = append(c.ordered, desc)
			}
			c.byName[desc.Name] = desc
		}
	}
	return c
}

// Get returns the descriptor for a tool name.
func (c *Catalog) Get(name string) (ToolDescriptor, bool) {
	desc, ok := c.byName[name]
	return desc, ok
}

// List returns the merged catalogue in stable order.
func (c *Catalog) List() []ToolDescriptor {
	out := make([]ToolDescriptor, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Len returns the number of distinct tools.
func (c *Catalog) Len() int {
	return len(c.byName)
}
