package crypto

import (
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, clock clockwork.Clock) *Service {
	t.Helper()
	km, err := OpenKeyManager(t.TempDir(), clock)
	require.NoError(t, err)
	return NewService(km, clock, slog.Default(), 30*24*time.Hour, 24*time.Hour)
}

func TestService_EncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	env, err := svc.Encrypt([]byte("sensitive payload"), "user_data", nil)
	require.NoError(t, err)
	assert.Equal(t, "user_data", env.KeyID)
	assert.Equal(t, 1, env.KeyVersion)
	assert.Equal(t, AlgorithmName, env.Algorithm)
	assert.NotEmpty(t, env.Data)

	got, err := svc.Decrypt(env, nil)
	require.NoError(t, err)
	assert.Equal(t, "sensitive payload", string(got))
}

func TestService_EncryptEmptyInput(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	env, err := svc.Encrypt([]byte{}, "user_data", nil)
	require.NoError(t, err)

	got, err := svc.Decrypt(env, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestService_DecryptRejectsTampering(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	env, err := svc.Encrypt([]byte("payload"), "user_data", nil)
	require.NoError(t, err)

	blob, err := base64.StdEncoding.DecodeString(env.Data)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF
	env.Data = base64.StdEncoding.EncodeToString(blob)

	_, err = svc.Decrypt(env, nil)
	assert.Error(t, err)
}

func TestService_DecryptRejectsWrongAAD(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	env, err := svc.Encrypt([]byte("payload"), "user_data", []byte("email"))
	require.NoError(t, err)

	_, err = svc.Decrypt(env, []byte("phone"))
	assert.Error(t, err)
}

func TestService_DecryptRejectsInvalidEnvelope(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	_, err := svc.Decrypt(nil, nil)
	assert.Error(t, err)

	_, err = svc.Decrypt(&Envelope{KeyID: "user_data"}, nil)
	assert.Error(t, err)

	_, err = svc.Decrypt(&Envelope{Data: "AAAA", KeyID: "user_data"}, nil)
	assert.Error(t, err)
}

func TestService_EncryptDecryptPII(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	record := map[string]any{
		"id":    "u-1",
		"email": "alice@example.com",
		"phone": "+49 170 1234567",
		"name":  nil,
	}

	encrypted, err := svc.EncryptPII(record, []string{"email", "phone", "name", "missing"}, "pii")
	require.NoError(t, err)

	assert.Equal(t, "u-1", encrypted["id"])
	assert.Equal(t, true, encrypted["email"+EncryptedMarkerSuffix])
	assert.Equal(t, true, encrypted["phone"+EncryptedMarkerSuffix])
	assert.NotContains(t, encrypted, "name"+EncryptedMarkerSuffix)
	assert.NotContains(t, encrypted, "missing"+EncryptedMarkerSuffix)
	assert.IsType(t, &Envelope{}, encrypted["email"])

	// The source record is untouched
	assert.Equal(t, "alice@example.com", record["email"])

	decrypted, err := svc.DecryptPII(encrypted, []string{"email", "phone"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", decrypted["email"])
	assert.Equal(t, "+49 170 1234567", decrypted["phone"])
	assert.NotContains(t, decrypted, "email"+EncryptedMarkerSuffix)
	assert.NotContains(t, decrypted, "phone"+EncryptedMarkerSuffix)
}

func TestService_DecryptPIIPreservesFieldTypes(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	// Strings that happen to look like JSON scalars must come back as the
	// strings they were, and genuine non-string values keep their type.
	record := map[string]any{
		"phone":    "123456",
		"optedIn":  "true",
		"initials": "null",
		"age":      float64(34),
		"verified": true,
	}
	fields := []string{"phone", "optedIn", "initials", "age", "verified"}

	encrypted, err := svc.EncryptPII(record, fields, "pii")
	require.NoError(t, err)

	decrypted, err := svc.DecryptPII(encrypted, fields)
	require.NoError(t, err)
	assert.Equal(t, "123456", decrypted["phone"])
	assert.Equal(t, "true", decrypted["optedIn"])
	assert.Equal(t, "null", decrypted["initials"])
	assert.Equal(t, float64(34), decrypted["age"])
	assert.Equal(t, true, decrypted["verified"])
}

func TestService_EncryptPIIIsIdempotent(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	record := map[string]any{"email": "alice@example.com"}

	once, err := svc.EncryptPII(record, []string{"email"}, "pii")
	require.NoError(t, err)
	twice, err := svc.EncryptPII(once, []string{"email"}, "pii")
	require.NoError(t, err)

	// Second pass leaves the already encrypted field alone
	assert.Equal(t, once["email"], twice["email"])

	decrypted, err := svc.DecryptPII(twice, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", decrypted["email"])
}

func TestService_DecryptPIISkipsPlainFields(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	record := map[string]any{"email": "plain@example.com"}

	decrypted, err := svc.DecryptPII(record, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, "plain@example.com", decrypted["email"])
}

func TestService_Anonymize(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	record := map[string]any{
		"id":    "u-1",
		"email": "alice@example.com",
	}

	anonymized := svc.Anonymize(record, []string{"email", "missing"})

	assert.Equal(t, "u-1", anonymized["id"])
	assert.Equal(t, true, anonymized["email"+AnonymizedMarkerSuffix])
	assert.Len(t, anonymized["email"], anonymizedHashLength)
	assert.NotEqual(t, "alice@example.com", anonymized["email"])
	assert.NotContains(t, anonymized, "missing"+AnonymizedMarkerSuffix)

	// Deterministic: same input yields the same digest
	again := svc.Anonymize(record, []string{"email"})
	assert.Equal(t, anonymized["email"], again["email"])
}

func TestService_HealthCheck(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())
	assert.NoError(t, svc.HealthCheck())
}

func TestService_Stats(t *testing.T) {
	svc := newTestService(t, clockwork.NewFakeClock())

	_, err := svc.Encrypt([]byte("x"), "user_data", nil)
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, 1, stats["total_keys"])
	assert.Equal(t, 1, stats["active_keys"])
	assert.Equal(t, AlgorithmName, stats["algorithm"])
}
