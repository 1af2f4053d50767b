package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/99designs/keyring"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretNeverPrints(t *testing.T) {
	s := NewSecret("hunter2")

	assert.Equal(t, "hunter2", s.Reveal())
	assert.NotContains(t, fmt.Sprintf("%v %s %+v %#v", s, s, s, s), "hunter2")

	data, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	assert.Equal(t, "", NewSecret("").String())
}

func TestEnvProvider(t *testing.T) {
	env := map[string]string{
		"CI_RTM_TOKEN": "tok",
		"CI_RTM_USER":  "",
	}
	p := &EnvProvider{prefix: "CI_", lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	v, err := p.Lookup(context.Background(), KeyRTMToken)
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	_, err = p.Lookup(context.Background(), KeyRTMUser)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.Lookup(context.Background(), KeySMTPPassword)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveSkipsMissingKeys(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{
		{Key: KeyRTMBaseURL, Data: []byte("https://jira.example.com")},
		{Key: KeyWikiToken, Data: []byte("wiki-token")},
	})

	b, err := Resolve(context.Background(), NewKeyringProvider(ring))
	require.NoError(t, err)
	assert.Equal(t, "https://jira.example.com", b.RTMBaseURL.Reveal())
	assert.Equal(t, "wiki-token", b.WikiToken.Reveal())
	assert.True(t, b.RTMToken.IsZero())
	assert.True(t, b.TriggerToken.IsZero())
}

type failingProvider struct{}

func (failingProvider) Name() string { return "broken" }
func (failingProvider) Lookup(context.Context, string) (string, error) {
	return "", errors.New("backend unavailable")
}

func TestResolvePropagatesProviderFailure(t *testing.T) {
	_, err := Resolve(context.Background(), failingProvider{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestKeyringStore(t *testing.T) {
	p := NewKeyringProvider(keyring.NewArrayKeyring(nil))
	require.NoError(t, p.Store(KeySMTPPassword, "pw"))

	v, err := p.Lookup(context.Background(), KeySMTPPassword)
	require.NoError(t, err)
	assert.Equal(t, "pw", v)
}

type fakeSecretsManager struct {
	calls  int
	secret *string
	err    error
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{Name: in.SecretId, SecretString: f.secret}, nil
}

func TestSecretsManagerProviderFetchesOnce(t *testing.T) {
	fake := &fakeSecretsManager{secret: aws.String(`{"rtm_token":"a","smtp_pass":"b"}`)}
	p := newSecretsManagerProvider(fake, "ci/rtm")

	b, err := Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "a", b.RTMToken.Reveal())
	assert.Equal(t, "b", b.SMTPPassword.Reveal())
	assert.Equal(t, 1, fake.calls)
}

func TestSecretsManagerProviderBadPayload(t *testing.T) {
	p := newSecretsManagerProvider(&fakeSecretsManager{secret: aws.String(`["x"]`)}, "ci/rtm")
	_, err := p.Lookup(context.Background(), KeyRTMToken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
