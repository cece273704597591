package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/yddav/marketing-hub-identity/internal/domain"
)

// UserDirectory is a read-only user lookup loaded from a JSON file. User
// lifecycle lives in the owning system; this service only needs to resolve
// credentials and roles.
type UserDirectory struct {
	byID    map[string]domain.User
	byEmail map[string]domain.User
}

type userFile struct {
	Users []userRecord `json:"users"`
}

type userRecord struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
	MFAEnabled   bool   `json:"mfaEnabled"`
	MFASecret    string `json:"mfaSecret"`
}

// LoadUserDirectory reads the directory file. An empty path yields an empty
// directory, which makes every login fail closed.
func LoadUserDirectory(path string) (*UserDirectory, error) {
	dir := &UserDirectory{
		byID:    make(map[string]domain.User),
		byEmail: make(map[string]domain.User),
	}
	if path == "" {
		return dir, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user directory: %w", err)
	}

	var file userFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse user directory: %w", err)
	}

	for _, record := range file.Users {
		if record.ID == "" || record.Email == "" {
			return nil, fmt.Errorf("user directory entries need id and email")
		}
		user := domain.User{
			ID:           record.ID,
			Email:        record.Email,
			PasswordHash: record.PasswordHash,
			Role:         record.Role,
			MFAEnabled:   record.MFAEnabled,
			MFASecret:    record.MFASecret,
		}
		dir.byID[user.ID] = user
		dir.byEmail[user.Email] = user
	}
	return dir, nil
}

func (d *UserDirectory) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	user, ok := d.byEmail[email]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (d *UserDirectory) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := d.byID[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}
