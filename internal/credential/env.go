package credential

import (
	"context"
	"os"
	"strings"
)

// EnvProvider reads credentials from environment variables named
// <prefix><KEY>, e.g. RTM_TOKEN.
type EnvProvider struct {
	prefix string
	lookup func(string) (string, bool)
}

func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix, lookup: os.LookupEnv}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Lookup(_ context.Context, key string) (string, error) {
	v, ok := p.lookup(p.prefix + strings.ToUpper(key))
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}
