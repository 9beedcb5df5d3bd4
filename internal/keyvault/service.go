// Package keyvault stores per-organization LLM provider credentials,
// encrypted at rest, and hands out decrypted credentials one call at a time.
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/audit"
	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/models"
)

var supportedProviders = map[string]bool{
	models.ProviderOpenAI:    true,
	models.ProviderAnthropic: true,
	models.ProviderOllama:    true,
}

// CredentialTester performs a minimal authenticated round trip.
type CredentialTester interface {
	TestCredential(ctx context.Context, cred llm.Credential) (bool, string)
}

type Service struct {
	store  Store
	cipher Cipher
	tester CredentialTester
	audit  audit.Recorder
	now    func() time.Time
}

func NewService(store Store, cipher Cipher, tester CredentialTester, auditor audit.Recorder) *Service {
	return &Service{
		store:  store,
		cipher: cipher,
		tester: tester,
		audit:  auditor,
		now:    time.Now,
	}
}

type CreateInput struct {
	Provider string `json:"provider"`
	KeyName  string `json:"key_name"`
	APIKey   string `json:"api_key"`
}

type UpdateInput struct {
	KeyName *string `json:"key_name,omitempty"`
	APIKey  *string `json:"api_key,omitempty"`
}

type TestResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// Create stores a new, inactive key.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, in CreateInput) (*models.LLMKey, error) {
	provider, err := normalizeProvider(in.Provider)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.KeyName)
	if name == "" || len(name) > 100 {
		return nil, apperr.Validation("key_name must be 1-100 characters")
	}
	raw := strings.TrimSpace(in.APIKey)
	if raw == "" && provider != models.ProviderOllama {
		return nil, apperr.Validation("api_key is required")
	}

	ciphertext, err := s.cipher.Encrypt([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("encrypt key: %w", err)
	}

	key := &models.LLMKey{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Provider:       provider,
		KeyName:        name,
		Ciphertext:     ciphertext,
		KeyHint:        MaskKey(raw),
	}
	if err := s.store.Create(ctx, key); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: orgID,
		Action:         audit.ActionAPIKeyCreate,
		ResourceType:   "llm_key",
		ResourceID:     &key.ID,
		Details:        map[string]any{"key_name": name, "provider": provider},
	})
	return key, nil
}

func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]models.LLMKey, error) {
	return s.store.List(ctx, orgID)
}

func (s *Service) Get(ctx context.Context, orgID, keyID uuid.UUID) (*models.LLMKey, error) {
	return s.store.Get(ctx, orgID, keyID)
}

func (s *Service) Update(ctx context.Context, orgID, keyID uuid.UUID, in UpdateInput) (*models.LLMKey, error) {
	key, err := s.store.Get(ctx, orgID, keyID)
	if err != nil {
		return nil, err
	}

	if in.KeyName != nil {
		name := strings.TrimSpace(*in.KeyName)
		if name == "" || len(name) > 100 {
			return nil, apperr.Validation("key_name must be 1-100 characters")
		}
		key.KeyName = name
	}
	if in.APIKey != nil {
		raw := strings.TrimSpace(*in.APIKey)
		if raw == "" && key.Provider != models.ProviderOllama {
			return nil, apperr.Validation("api_key must not be empty")
		}
		if key.Ciphertext, err = s.cipher.Encrypt([]byte(raw)); err != nil {
			return nil, fmt.Errorf("encrypt key: %w", err)
		}
		key.KeyHint = MaskKey(raw)
	}

	if err := s.store.Update(ctx, key); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: orgID,
		Action:         audit.ActionAPIKeyUpdate,
		ResourceType:   "llm_key",
		ResourceID:     &key.ID,
		Details:        map[string]any{"key_name": key.KeyName, "key_rotated": in.APIKey != nil},
	})
	return key, nil
}

func (s *Service) Delete(ctx context.Context, orgID, keyID uuid.UUID) error {
	key, err := s.store.Get(ctx, orgID, keyID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, orgID, keyID); err != nil {
		return err
	}

	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: orgID,
		Action:         audit.ActionAPIKeyDelete,
		ResourceType:   "llm_key",
		ResourceID:     &keyID,
		Details:        map[string]any{"key_name": key.KeyName, "was_active": key.IsActive},
	})
	return nil
}

// Activate makes keyID the organization's only active key.
func (s *Service) Activate(ctx context.Context, orgID, keyID uuid.UUID) (*models.LLMKey, error) {
	key, err := s.store.Activate(ctx, orgID, keyID)
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: orgID,
		Action:         audit.ActionAPIKeyActivate,
		ResourceType:   "llm_key",
		ResourceID:     &key.ID,
		Details:        map[string]any{"key_name": key.KeyName, "provider": key.Provider},
	})
	return key, nil
}

// Test checks a stored key against its provider.
func (s *Service) Test(ctx context.Context, orgID, keyID uuid.UUID) (*TestResult, error) {
	key, err := s.store.Get(ctx, orgID, keyID)
	if err != nil {
		return nil, err
	}
	raw, err := s.cipher.Decrypt(key.Ciphertext)
	if err != nil {
		slog.Error("failed to decrypt llm key", "key_id", key.ID, "organization_id", orgID, "error", err)
		return &TestResult{Valid: false, Message: "stored key could not be decrypted"}, nil
	}

	ok, msg := s.tester.TestCredential(ctx, llm.Credential{Provider: key.Provider, APIKey: string(raw)})
	return &TestResult{Valid: ok, Message: msg}, nil
}

// TestRaw checks a key before it is stored.
func (s *Service) TestRaw(ctx context.Context, provider, rawKey string) (*TestResult, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return nil, err
	}
	ok, msg := s.tester.TestCredential(ctx, llm.Credential{Provider: provider, APIKey: strings.TrimSpace(rawKey)})
	return &TestResult{Valid: ok, Message: msg}, nil
}

// ActiveCredential decrypts the organization's active key. The result must
// not be retained beyond the provider call it was fetched for.
func (s *Service) ActiveCredential(ctx context.Context, orgID uuid.UUID) (llm.Credential, error) {
	key, err := s.store.Active(ctx, orgID)
	if errors.Is(err, apperr.ErrNotFound) {
		return llm.Credential{}, apperr.Credential("no active LLM API key is configured for this organization")
	}
	if err != nil {
		return llm.Credential{}, fmt.Errorf("load active key: %w", err)
	}

	raw, err := s.cipher.Decrypt(key.Ciphertext)
	if err != nil {
		slog.Error("failed to decrypt active llm key", "key_id", key.ID, "organization_id", orgID, "error", err)
		return llm.Credential{}, apperr.Credential("the active LLM API key could not be decrypted; re-enter it")
	}

	if err := s.store.TouchLastUsed(context.WithoutCancel(ctx), key.ID, s.now()); err != nil {
		slog.Warn("failed to touch llm key", "key_id", key.ID, "error", err)
	}
	return llm.Credential{Provider: key.Provider, APIKey: string(raw)}, nil
}

type RotateResult struct {
	Scanned int
	Rotated int
	Skipped int
	Failed  int
}

// Rotate re-encrypts every key not sealed with the current master key
// version. It is safe to run while the API is serving traffic.
func (s *Service) Rotate(ctx context.Context) (*RotateResult, error) {
	keys, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	res := &RotateResult{Scanned: len(keys)}
	for _, k := range keys {
		if s.cipher.Current(k.Ciphertext) {
			continue
		}
		raw, err := s.cipher.Decrypt(k.Ciphertext)
		if err != nil {
			slog.Error("cannot decrypt key for rotation", "key_id", k.ID, "error", err)
			res.Failed++
			continue
		}
		sealed, err := s.cipher.Encrypt(raw)
		if err != nil {
			return res, fmt.Errorf("encrypt key %s: %w", k.ID, err)
		}
		swapped, err := s.store.SwapCiphertext(ctx, k.ID, k.Ciphertext, sealed)
		if err != nil {
			return res, err
		}
		if !swapped {
			res.Skipped++
			continue
		}
		res.Rotated++
	}
	return res, nil
}

// MaskKey keeps enough of a key to recognize it: "sk-...abcd".
func MaskKey(raw string) string {
	if len(raw) < 12 {
		return "****"
	}
	return raw[:3] + "..." + raw[len(raw)-4:]
}

func normalizeProvider(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	if !supportedProviders[p] {
		return "", apperr.Validation("unsupported provider %q, supported: openai, anthropic, ollama", p)
	}
	return p, nil
}
