package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/metrics"
)

const (
	keyLength     = 32 // AES-256
	masterKeyFile = "master.key"
	keyFileSuffix = ".key"
	metaSuffix    = ".meta"

	// AAD binding key-encryption envelopes to their purpose, so a stored
	// key blob cannot be replayed as application data.
	keyWrapAAD = "key-encryption"
)

const (
	KeyStatusActive   = "active"
	KeyStatusArchived = "archived"
)

// KeyMetadata describes one stored key version.
type KeyMetadata struct {
	KeyID         string    `json:"keyId"`
	Purpose       string    `json:"purpose"`
	Algorithm     string    `json:"algorithm"`
	Version       int       `json:"version"`
	RotationCount int       `json:"rotationCount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	RotatedAt     time.Time `json:"rotatedAt,omitempty"`
	ArchivedAt    time.Time `json:"archivedAt,omitempty"`
}

// KeyManager persists per-purpose encryption keys under a master key.
// Key material on disk is always ciphertext; the master key file itself is
// readable by the owner only.
type KeyManager struct {
	dir    string
	clock  clockwork.Clock
	master cipher.AEAD

	// rotateMu serializes rotations; the maps are guarded by mu alone so
	// encrypt/decrypt readers are never blocked behind file I/O.
	rotateMu sync.Mutex
	mu       sync.RWMutex
	keys     map[string][]byte
	meta     map[string]*KeyMetadata
}

// OpenKeyManager loads (or initializes) the keystore at dir. The directory
// and every file in it are created with owner-only permissions.
func OpenKeyManager(dir string, clock clockwork.Clock) (*KeyManager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	masterKey, err := loadOrCreateMasterKey(filepath.Join(dir, masterKeyFile))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create master cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create master GCM: %w", err)
	}

	km := &KeyManager{
		dir:    dir,
		clock:  clock,
		master: gcm,
		keys:   make(map[string][]byte),
		meta:   make(map[string]*KeyMetadata),
	}

	if err := km.loadKeys(); err != nil {
		return nil, err
	}
	metrics.ActiveKeys.Set(float64(len(km.keys)))
	return km, nil
}

func loadOrCreateMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != keyLength {
			return nil, fmt.Errorf("master key has wrong length: got %d bytes, want %d", len(data), keyLength)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	key := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to store master key: %w", err)
	}
	return key, nil
}

func (km *KeyManager) loadKeys() error {
	files, err := os.ReadDir(km.dir)
	if err != nil {
		return fmt.Errorf("failed to read keystore directory: %w", err)
	}

	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, keyFileSuffix) || name == masterKeyFile {
			continue
		}
		keyID := strings.TrimSuffix(name, keyFileSuffix)

		blob, err := os.ReadFile(filepath.Join(km.dir, name))
		if err != nil {
			return fmt.Errorf("failed to read key %s: %w", keyID, err)
		}
		key, err := openEnvelope(km.master, blob, []byte(keyWrapAAD))
		if err != nil {
			return fmt.Errorf("failed to unwrap key %s: %w", keyID, err)
		}

		meta, err := km.loadOrDefaultMetadata(keyID)
		if err != nil {
			return err
		}

		km.keys[keyID] = key
		km.meta[keyID] = meta
	}
	return nil
}

func (km *KeyManager) loadOrDefaultMetadata(keyID string) (*KeyMetadata, error) {
	path := filepath.Join(km.dir, keyID+metaSuffix)
	data, err := os.ReadFile(path)
	if err == nil {
		var meta KeyMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("failed to parse metadata for %s: %w", keyID, err)
		}
		return &meta, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", keyID, err)
	}

	// Key predates metadata tracking; synthesize a default record.
	meta := &KeyMetadata{
		KeyID:     keyID,
		Purpose:   "general",
		Algorithm: AlgorithmName,
		Version:   1,
		Status:    KeyStatusActive,
		CreatedAt: km.clock.Now().UTC(),
	}
	if err := km.writeMetadata(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Generate creates and persists a fresh key under keyID.
func (km *KeyManager) Generate(keyID, purpose string) error {
	km.mu.RLock()
	_, exists := km.keys[keyID]
	km.mu.RUnlock()
	if exists {
		return fmt.Errorf("key already exists: %s", keyID)
	}

	key := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	meta := &KeyMetadata{
		KeyID:     keyID,
		Purpose:   purpose,
		Algorithm: AlgorithmName,
		Version:   1,
		Status:    KeyStatusActive,
		CreatedAt: km.clock.Now().UTC(),
	}

	if err := km.persist(keyID, key, meta); err != nil {
		return err
	}

	km.mu.Lock()
	km.keys[keyID] = key
	km.meta[keyID] = meta
	metrics.ActiveKeys.Set(float64(len(km.keys)))
	km.mu.Unlock()
	return nil
}

// Ensure returns the key for keyID, generating one when it does not exist.
func (km *KeyManager) Ensure(keyID, purpose string) ([]byte, *KeyMetadata, error) {
	if key, meta, ok := km.Key(keyID); ok {
		return key, meta, nil
	}
	if err := km.Generate(keyID, purpose); err != nil {
		// A concurrent Ensure may have won the race.
		if key, meta, ok := km.Key(keyID); ok {
			return key, meta, nil
		}
		return nil, nil, err
	}
	key, meta, _ := km.Key(keyID)
	return key, meta, nil
}

// Key returns the raw key bytes and metadata for keyID.
func (km *KeyManager) Key(keyID string) ([]byte, *KeyMetadata, bool) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	key, ok := km.keys[keyID]
	if !ok {
		return nil, nil, false
	}
	meta := km.meta[keyID]
	return key, meta, true
}

// ArchivedVersions lists the ids of archived versions of keyID, newest first.
func (km *KeyManager) ArchivedVersions(keyID string) []string {
	km.mu.RLock()
	defer km.mu.RUnlock()

	meta, ok := km.meta[keyID]
	if !ok {
		return nil
	}

	var ids []string
	for v := meta.Version - 1; v >= 1; v-- {
		id := archiveID(keyID, v)
		if _, ok := km.keys[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// RotationResult reports a completed rotation.
type RotationResult struct {
	KeyID           string
	NewVersion      int
	PreviousVersion int
	RotatedAt       time.Time
}

// Rotate archives the current key under a versioned id and activates a fresh
// key under keyID. The archived version is retained indefinitely: ciphertexts
// produced before the rotation may still depend on it.
func (km *KeyManager) Rotate(keyID string) (*RotationResult, error) {
	km.rotateMu.Lock()
	defer km.rotateMu.Unlock()

	oldKey, oldMeta, ok := km.Key(keyID)
	if !ok {
		return nil, apperrors.KeyRotationError(keyID, fmt.Errorf("key not found: %s", keyID))
	}

	now := km.clock.Now().UTC()
	archivedID := archiveID(keyID, oldMeta.Version)
	archivedMeta := *oldMeta
	archivedMeta.KeyID = archivedID
	archivedMeta.Status = KeyStatusArchived
	archivedMeta.ArchivedAt = now

	newKey := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, newKey); err != nil {
		return nil, apperrors.KeyRotationError(keyID, fmt.Errorf("failed to generate key: %w", err))
	}

	newMeta := *oldMeta
	newMeta.Version = oldMeta.Version + 1
	newMeta.RotationCount = oldMeta.RotationCount + 1
	newMeta.RotatedAt = now

	if err := km.persist(archivedID, oldKey, &archivedMeta); err != nil {
		return nil, apperrors.KeyRotationError(keyID, err)
	}
	if err := km.persist(keyID, newKey, &newMeta); err != nil {
		return nil, apperrors.KeyRotationError(keyID, err)
	}

	km.mu.Lock()
	km.keys[archivedID] = oldKey
	km.meta[archivedID] = &archivedMeta
	km.keys[keyID] = newKey
	km.meta[keyID] = &newMeta
	metrics.ActiveKeys.Set(float64(len(km.keys)))
	km.mu.Unlock()

	metrics.KeyRotations.Inc()
	return &RotationResult{
		KeyID:           keyID,
		NewVersion:      newMeta.Version,
		PreviousVersion: oldMeta.Version,
		RotatedAt:       now,
	}, nil
}

// Delete removes key material and metadata entirely. Data encrypted under
// the key becomes permanently unrecoverable.
func (km *KeyManager) Delete(keyID string) error {
	km.mu.Lock()
	delete(km.keys, keyID)
	delete(km.meta, keyID)
	metrics.ActiveKeys.Set(float64(len(km.keys)))
	km.mu.Unlock()

	keyPath := filepath.Join(km.dir, keyID+keyFileSuffix)
	metaPath := filepath.Join(km.dir, keyID+metaSuffix)
	if err := os.Remove(keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key file: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete metadata file: %w", err)
	}
	return nil
}

// ActiveKeys lists metadata for keys with status active.
func (km *KeyManager) ActiveKeys() []KeyMetadata {
	km.mu.RLock()
	defer km.mu.RUnlock()

	var out []KeyMetadata
	for _, meta := range km.meta {
		if meta.Status == KeyStatusActive {
			out = append(out, *meta)
		}
	}
	return out
}

// KeyCount returns the number of loaded keys, archived versions included.
func (km *KeyManager) KeyCount() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.keys)
}

func (km *KeyManager) persist(keyID string, key []byte, meta *KeyMetadata) error {
	blob, err := sealEnvelope(km.master, key, []byte(keyWrapAAD))
	if err != nil {
		return fmt.Errorf("failed to wrap key %s: %w", keyID, err)
	}
	if err := os.WriteFile(filepath.Join(km.dir, keyID+keyFileSuffix), blob, 0o600); err != nil {
		return fmt.Errorf("failed to store key %s: %w", keyID, err)
	}
	return km.writeMetadata(meta)
}

func (km *KeyManager) writeMetadata(meta *KeyMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s: %w", meta.KeyID, err)
	}
	path := filepath.Join(km.dir, meta.KeyID+metaSuffix)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to store metadata for %s: %w", meta.KeyID, err)
	}
	return nil
}

func archiveID(keyID string, version int) string {
	return fmt.Sprintf("%s_v%d", keyID, version)
}
