package crypto

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/metrics"
)

const (
	// EncryptedMarkerSuffix flags a record field as holding an envelope.
	EncryptedMarkerSuffix = "_encrypted"
	// AnonymizedMarkerSuffix flags a record field as irreversibly hashed.
	AnonymizedMarkerSuffix = "_anonymized"

	anonymizedHashLength = 16
)

// Service encrypts and decrypts application data using keys from a
// KeyManager, and drives the periodic rotation sweep.
type Service struct {
	keys   *KeyManager
	clock  clockwork.Clock
	logger *slog.Logger

	rotationInterval time.Duration
	checkEvery       time.Duration
}

func NewService(keys *KeyManager, clock clockwork.Clock, logger *slog.Logger, rotationInterval, checkEvery time.Duration) *Service {
	return &Service{
		keys:             keys,
		clock:            clock,
		logger:           logger,
		rotationInterval: rotationInterval,
		checkEvery:       checkEvery,
	}
}

// Encrypt seals plaintext under the active key for keyID, provisioning the
// key on first use.
func (s *Service) Encrypt(plaintext []byte, keyID string, aad []byte) (*Envelope, error) {
	key, meta, err := s.keys.Ensure(keyID, "general")
	if err != nil {
		metrics.EncryptionOps.WithLabelValues("encrypt", "error").Inc()
		return nil, apperrors.EncryptionError("failed to provision key", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		metrics.EncryptionOps.WithLabelValues("encrypt", "error").Inc()
		return nil, apperrors.EncryptionError("failed to initialize cipher", err)
	}

	blob, err := sealEnvelope(aead, plaintext, aad)
	if err != nil {
		metrics.EncryptionOps.WithLabelValues("encrypt", "error").Inc()
		return nil, apperrors.EncryptionError("encryption failed", err)
	}

	metrics.EncryptionOps.WithLabelValues("encrypt", "success").Inc()
	metrics.EncryptedBytes.WithLabelValues("encrypt").Add(float64(len(plaintext)))

	return &Envelope{
		Data:       base64.StdEncoding.EncodeToString(blob),
		KeyID:      keyID,
		KeyVersion: meta.Version,
		Algorithm:  AlgorithmName,
		Timestamp:  s.clock.Now().UTC(),
	}, nil
}

// Decrypt opens an envelope. When the envelope predates a rotation, archived
// versions of its key are tried newest first. Any authentication failure is
// reported as a single opaque error.
func (s *Service) Decrypt(env *Envelope, aad []byte) ([]byte, error) {
	if env == nil || env.Data == "" || env.KeyID == "" {
		metrics.EncryptionOps.WithLabelValues("decrypt", "error").Inc()
		return nil, apperrors.EncryptionError("invalid envelope", nil)
	}

	blob, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		metrics.EncryptionOps.WithLabelValues("decrypt", "error").Inc()
		return nil, apperrors.EncryptionError("invalid envelope encoding", err)
	}

	for _, candidate := range s.candidateKeyIDs(env) {
		key, _, ok := s.keys.Key(candidate)
		if !ok {
			continue
		}
		aead, err := newAEAD(key)
		if err != nil {
			continue
		}
		plaintext, err := openEnvelope(aead, blob, aad)
		if err != nil {
			continue
		}
		metrics.EncryptionOps.WithLabelValues("decrypt", "success").Inc()
		metrics.EncryptedBytes.WithLabelValues("decrypt").Add(float64(len(plaintext)))
		return plaintext, nil
	}

	metrics.EncryptionOps.WithLabelValues("decrypt", "error").Inc()
	return nil, apperrors.EncryptionError("decryption failed", nil)
}

// candidateKeyIDs orders key ids to try for an envelope: the exact recorded
// version first, then the active key, then remaining archived versions.
func (s *Service) candidateKeyIDs(env *Envelope) []string {
	var candidates []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			candidates = append(candidates, id)
		}
	}

	if _, meta, ok := s.keys.Key(env.KeyID); ok && env.KeyVersion > 0 && env.KeyVersion != meta.Version {
		add(archiveID(env.KeyID, env.KeyVersion))
	}
	add(env.KeyID)
	for _, id := range s.keys.ArchivedVersions(env.KeyID) {
		add(id)
	}
	return candidates
}

// EncryptPII returns a copy of record with the named fields replaced by
// envelopes and {field}_encrypted markers set. Absent or nil fields are
// skipped. Field values are JSON-encoded before encryption so DecryptPII
// restores the exact type: the string "123456" stays a string, not a number.
func (s *Service) EncryptPII(record map[string]any, fields []string, keyID string) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}

	for _, field := range fields {
		value, ok := out[field]
		if !ok || value == nil {
			continue
		}
		if marked, _ := out[field+EncryptedMarkerSuffix].(bool); marked {
			continue
		}

		plaintext, err := json.Marshal(value)
		if err != nil {
			return nil, apperrors.EncryptionError(fmt.Sprintf("failed to encode field %s", field), err)
		}

		env, err := s.Encrypt(plaintext, keyID, []byte(field))
		if err != nil {
			return nil, err
		}
		out[field] = env
		out[field+EncryptedMarkerSuffix] = true
	}
	return out, nil
}

// DecryptPII reverses EncryptPII. Fields without an {field}_encrypted marker
// pass through untouched.
func (s *Service) DecryptPII(record map[string]any, fields []string) (map[string]any, error) {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}

	for _, field := range fields {
		if marked, _ := out[field+EncryptedMarkerSuffix].(bool); !marked {
			continue
		}

		env, err := asEnvelope(out[field])
		if err != nil {
			return nil, apperrors.EncryptionError(fmt.Sprintf("field %s is not an envelope", field), err)
		}

		plaintext, err := s.Decrypt(env, []byte(field))
		if err != nil {
			return nil, err
		}

		var value any
		if err := json.Unmarshal(plaintext, &value); err != nil {
			return nil, apperrors.EncryptionError(fmt.Sprintf("field %s holds malformed plaintext", field), err)
		}

		out[field] = value
		delete(out, field+EncryptedMarkerSuffix)
	}
	return out, nil
}

// Anonymize irreversibly replaces the named fields with a truncated SHA-256
// digest and sets {field}_anonymized markers. There is no reverse operation.
func (s *Service) Anonymize(record map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}

	for _, field := range fields {
		value, ok := out[field]
		if !ok || value == nil {
			continue
		}
		out[field] = anonymizeValue(value)
		out[field+AnonymizedMarkerSuffix] = true
	}
	return out
}

func anonymizeValue(value any) string {
	var raw []byte
	if str, ok := value.(string); ok {
		raw = []byte(str)
	} else {
		raw, _ = json.Marshal(value)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:anonymizedHashLength]
}

// RotateKey rotates a single key immediately.
func (s *Service) RotateKey(keyID string) (*RotationResult, error) {
	result, err := s.keys.Rotate(keyID)
	if err != nil {
		metrics.KeyRotationFailures.Inc()
		return nil, err
	}
	s.logger.Info("encryption key rotated",
		"key_id", result.KeyID,
		"version", result.NewVersion,
	)
	return result, nil
}

// DeleteKey permanently removes a key. Ciphertexts under it become
// unrecoverable.
func (s *Service) DeleteKey(keyID string) error {
	if err := s.keys.Delete(keyID); err != nil {
		return apperrors.EncryptionError("failed to delete key", err)
	}
	s.logger.Info("encryption key deleted", "key_id", keyID)
	return nil
}

// Run drives the rotation sweep until ctx is cancelled. Each sweep rotates
// every active key whose age since creation or last rotation exceeds the
// rotation interval. A failing key is logged and skipped; the sweep
// continues with the rest.
func (s *Service) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.checkEvery)
	defer ticker.Stop()

	s.logger.Info("key rotation sweep started",
		"interval", s.rotationInterval.String(),
		"check_every", s.checkEvery.String(),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("key rotation sweep stopped")
			return
		case <-ticker.Chan():
			s.rotateDueKeys()
		}
	}
}

func (s *Service) rotateDueKeys() {
	now := s.clock.Now()
	for _, meta := range s.keys.ActiveKeys() {
		basis := meta.CreatedAt
		if !meta.RotatedAt.IsZero() {
			basis = meta.RotatedAt
		}
		if now.Sub(basis) < s.rotationInterval {
			continue
		}
		if _, err := s.RotateKey(meta.KeyID); err != nil {
			s.logger.Error("key rotation failed",
				"key_id", meta.KeyID,
				"error", err.Error(),
			)
		}
	}
}

// HealthCheck round-trips a sentinel value through a dedicated key.
func (s *Service) HealthCheck() error {
	sentinel := []byte("health-check-" + s.clock.Now().UTC().Format(time.RFC3339Nano))

	env, err := s.Encrypt(sentinel, "health_check", nil)
	if err != nil {
		return err
	}
	got, err := s.Decrypt(env, nil)
	if err != nil {
		return err
	}
	if string(got) != string(sentinel) {
		return apperrors.EncryptionError("health check round trip mismatch", nil)
	}
	return nil
}

// Stats reports keystore occupancy for diagnostics.
func (s *Service) Stats() map[string]any {
	active := s.keys.ActiveKeys()
	return map[string]any{
		"total_keys":  s.keys.KeyCount(),
		"active_keys": len(active),
		"algorithm":   AlgorithmName,
	}
}

// asEnvelope accepts both *Envelope values and the map shape an envelope
// takes after a JSON round trip.
func asEnvelope(value any) (*Envelope, error) {
	switch v := value.(type) {
	case *Envelope:
		return v, nil
	case Envelope:
		return &v, nil
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		return &env, nil
	}
}
