package vault

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/mtzanidakis/teamrelay/internal/store"
)

// AnthropicKeySecret is the secret consulted for the native backend's API
// key when none is configured.
const AnthropicKeySecret = "anthropic_api_key"

var envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Secrets manages encrypted secrets in the store.
type Secrets struct {
	store *store.Store
	vault *Vault
}

func NewSecrets(s *store.Store, v *Vault) *Secrets {
	return &Secrets{store: s, vault: v}
}

// Put encrypts value and stores it under id. envName defaults to the
// upper-cased id.
func (s *Secrets) Put(id, envName, description string, value []byte, global bool) error {
	if envName == "" {
		envName = strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
	}
	if !envNameRe.MatchString(envName) {
		return fmt.Errorf("invalid env name %q", envName)
	}
	ciphertext, nonce, err := s.vault.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	return s.store.SaveSecret(&store.Secret{
		ID:          id,
		Name:        id,
		Description: description,
		EnvName:     envName,
		Value:       ciphertext,
		Nonce:       nonce,
		Global:      global,
	})
}

// Get decrypts the secret with the given id. It returns nil when the secret
// does not exist.
func (s *Secrets) Get(id string) ([]byte, error) {
	sec, err := s.store.GetSecret(id)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, nil
	}
	return s.vault.Decrypt(sec.Value, sec.Nonce)
}

// SecretEnv returns KEY=VALUE pairs for the named secrets plus any secret
// assigned to the agent or marked global.
func (s *Secrets) SecretEnv(_ context.Context, agentID string, names []string) ([]string, error) {
	assigned, err := s.store.GetAgentSecrets(agentID)
	if err != nil {
		return nil, err
	}
	secrets := make(map[string]store.Secret, len(assigned)+len(names))
	for _, sec := range assigned {
		secrets[sec.ID] = sec
	}
	for _, name := range names {
		if _, ok := secrets[name]; ok {
			continue
		}
		sec, err := s.store.GetSecret(name)
		if err != nil {
			return nil, err
		}
		if sec == nil {
			return nil, fmt.Errorf("secret %q not found", name)
		}
		secrets[name] = *sec
	}

	env := make([]string, 0, len(secrets))
	for _, id := range slices.Sorted(maps.Keys(secrets)) {
		sec := secrets[id]
		plaintext, err := s.vault.Decrypt(sec.Value, sec.Nonce)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", id, err)
		}
		env = append(env, sec.EnvName+"="+string(plaintext))
	}
	return env, nil
}

// Redact replaces plaintext values of the agent's secrets in content with
// [REDACTED]. Values shorter than 8 bytes are skipped.
func (s *Secrets) Redact(agentID string, names []string, content string) string {
	env, err := s.SecretEnv(context.Background(), agentID, names)
	if err != nil {
		slog.Warn("resolve secrets for redaction failed", "agent", agentID, "error", err)
		return content
	}
	for _, kv := range env {
		_, value, _ := strings.Cut(kv, "=")
		if len(value) < 8 || !strings.Contains(content, value) {
			continue
		}
		slog.Warn("redacted secret from agent output", "agent", agentID)
		content = strings.ReplaceAll(content, value, "[REDACTED]")
	}
	return content
}
