package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	apperrors "github.com/yddav/marketing-hub-identity/internal/errors"
	"github.com/yddav/marketing-hub-identity/internal/logging"
)

const (
	mfaIssuer       = "Marketing Automation Hub"
	totpSkew        = 2
	backupCodeCount = 10
	backupCodeBytes = 4
)

// MFASetup is the enrollment material returned once at setup. The owning
// user system persists the secret and backup codes; this service never
// stores them.
type MFASetup struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
}

// SetupMFA provisions a TOTP secret and backup codes for a user.
func (s *Service) SetupMFA(ctx context.Context, userID string) (*MFASetup, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalError("user lookup failed", err)
	}
	if user == nil {
		return nil, apperrors.NotFoundError("user not found")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      mfaIssuer,
		AccountName: user.Email,
		SecretSize:  32,
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to generate MFA secret", err)
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, apperrors.InternalError("failed to generate backup codes", err)
	}

	logging.Audit("mfa_setup", "user_id", user.ID)

	return &MFASetup{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		BackupCodes: codes,
	}, nil
}

// VerifyMFACode checks a TOTP code against the user's secret, tolerating two
// 30-second steps of clock drift in either direction.
func (s *Service) VerifyMFACode(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, s.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func generateBackupCodes() ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		raw := make([]byte, backupCodeBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		codes = append(codes, strings.ToUpper(hex.EncodeToString(raw)))
	}
	return codes, nil
}
