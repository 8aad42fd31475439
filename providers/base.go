package providers

// Base provides common fields and methods shared by provider adapters.
// Embed this struct to avoid repeating name, apiKey, and baseURL handling.
type Base struct {
	name    string
	apiKey  string
	baseURL string
}

// Name returns the provider name.
func (b *Base) Name() string { return b.name }

// BaseURL returns the provider base URL.
func (b *Base) BaseURL() string { return b.baseURL }

// supportsByPrefix reports whether model carries one of the given prefixes.
// Adapters with prefix-addressable model families use this for SupportsModel.
func supportsByPrefix(model string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(model) >= len(p) && model[:len(p)] == p {
			return true
		}
	}
	return false
}
