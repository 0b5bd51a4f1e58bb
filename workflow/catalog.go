package workflow

import (
	"context"
	"os"
	"strings"
)

// StaticCatalog is a ToolCatalog with a fixed provider list.
type StaticCatalog []string

// Discover returns the configured providers.
func (c StaticCatalog) Discover(ctx context.Context) ([]string, error) {
	return []string(c), nil
}

// EnvCatalog reads capability providers from an environment variable
// holding a comma-separated list, falling back to a default set when the
// variable is unset.
type EnvCatalog struct {
	Var      string
	Fallback []string
}

// Discover parses the environment variable at call time so provider
// changes take effect without a worker restart.
func (c EnvCatalog) Discover(ctx context.Context) ([]string, error) {
	raw := os.Getenv(c.Var)
	if raw == "" {
		return c.Fallback, nil
	}

	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
