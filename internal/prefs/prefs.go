// Package prefs persists the signed-in account's profile between runs of a
// client process: who the user is and where their avatar lives.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Profile is the locally cached account profile.
type Profile struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

// File reads and writes a Profile at a fixed path on disk.
type File struct {
	path string
}

func NewFile(path string) *File { return &File{path: path} }

// DefaultPath places the profile under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chord", "profile.json"), nil
}

// Load returns the stored profile, or os.ErrNotExist when nothing has been
// saved yet.
func (f *File) Load() (Profile, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("prefs: decode %s: %w", f.path, err)
	}
	return p, nil
}

// Save writes the profile atomically.
func (f *File) Save(p Profile) error {
	if p.Email == "" {
		return errors.New("prefs: empty email")
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".profile-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Clear removes the stored profile. Clearing an absent profile is not an
// error.
func (f *File) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
