// Package credential resolves the secrets a pipeline run needs from a
// secret store (environment, OS keyring or AWS Secrets Manager).
package credential

import (
	"context"
	"errors"
	"fmt"

	"rtmpipe/internal/common"
)

// Credential keys. Providers map them onto their own naming scheme.
const (
	KeyRTMBaseURL   = "rtm_base_url"
	KeyRTMUser      = "rtm_user"
	KeyRTMToken     = "rtm_token"
	KeyWikiBaseURL  = "confluence_base"
	KeyWikiUser     = "confluence_user"
	KeyWikiToken    = "confluence_token"
	KeySMTPUser     = "smtp_user"
	KeySMTPPassword = "smtp_pass"
	KeyTriggerToken = "trigger_token"
	KeyGitUser      = "git_user"
	KeyGitToken     = "git_token"
)

var ErrNotFound = errors.New("credential not found")

// Provider looks up a single credential. Missing keys return ErrNotFound.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, key string) (string, error)
}

// Bindings are the resolved credentials of one run.
type Bindings struct {
	RTMBaseURL   Secret
	RTMUser      Secret
	RTMToken     Secret
	WikiBaseURL  Secret
	WikiUser     Secret
	WikiToken    Secret
	SMTPUser     Secret
	SMTPPassword Secret
	TriggerToken Secret
	GitUser      Secret
	GitToken     Secret
}

// Resolve reads every known key from p. Missing keys stay empty; any other
// provider failure aborts.
func Resolve(ctx context.Context, p Provider) (*Bindings, error) {
	b := &Bindings{}
	fields := []struct {
		key string
		dst *Secret
	}{
		{KeyRTMBaseURL, &b.RTMBaseURL},
		{KeyRTMUser, &b.RTMUser},
		{KeyRTMToken, &b.RTMToken},
		{KeyWikiBaseURL, &b.WikiBaseURL},
		{KeyWikiUser, &b.WikiUser},
		{KeyWikiToken, &b.WikiToken},
		{KeySMTPUser, &b.SMTPUser},
		{KeySMTPPassword, &b.SMTPPassword},
		{KeyTriggerToken, &b.TriggerToken},
		{KeyGitUser, &b.GitUser},
		{KeyGitToken, &b.GitToken},
	}
	for _, f := range fields {
		v, err := p.Lookup(ctx, f.key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("%s: resolving %s: %w", p.Name(), f.key, err)
		}
		*f.dst = NewSecret(v)
	}
	return b, nil
}

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg common.CredentialConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "env":
		return NewEnvProvider(cfg.EnvPrefix), nil
	case "keyring":
		return OpenKeyring(cfg.KeyringService, cfg.KeyringDir)
	case "aws":
		return NewSecretsManagerProvider(ctx, cfg.AWSRegion, cfg.AWSSecretID)
	default:
		return nil, fmt.Errorf("unknown credential provider %q", cfg.Provider)
	}
}
