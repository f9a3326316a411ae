package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"chord/internal/identity"
	"chord/internal/tree"
)

const directoryPath = "users"

// User is a registration request. Users are immutable after registration;
// there is no update or delete path.
type User struct {
	FirstName string
	LastName  string
	Email     string
}

// DisplayName is the directory-visible name of the user.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// DirectoryEntry is one row of the flat user directory.
type DirectoryEntry struct {
	Name  string
	Email string // safe form
}

// Directory maintains the contact directory under the "users" root and the
// per-user account nodes. Directory entries are keyed by safe email.
type Directory struct {
	log   *slog.Logger
	store tree.Store
}

// NewDirectory constructs a Directory over the given tree store.
func NewDirectory(log *slog.Logger, store tree.Store) *Directory {
	return &Directory{log: log, store: store}
}

// Register writes the user's subtree and its directory entry in a single
// atomic commit, so a crash can never strand a user record without a
// directory entry. The entry lives at its own child path, so concurrent
// registrations commit disjoint paths and neither can overwrite the other.
func (d *Directory) Register(ctx context.Context, u User, passwordHash string) error {
	const op = "chat.Directory.Register"

	if u.Email == "" || u.DisplayName() == "" {
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "missing email or name"}
	}
	safe := identity.SafeEmail(u.Email)

	if _, err := d.store.Get(ctx, safe); err == nil {
		return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "user already exists"}
	} else if !errors.Is(err, tree.ErrNotFound) {
		return identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}

	node := map[string]any{
		"first_name": u.FirstName,
		"last_name":  u.LastName,
	}
	if passwordHash != "" {
		node["password_hash"] = passwordHash
	}

	err := d.store.Update(ctx, map[string]tree.Value{
		safe: node,
		tree.Join(directoryPath, safe): map[string]any{
			"name":  u.DisplayName(),
			"email": safe,
		},
	})
	if err != nil {
		return identity.OpError{Op: op, Kind: identity.ErrWrite, Msg: err.Error()}
	}

	d.log.Info("directory.register", "email", safe)
	return nil
}

// Exists probes the user's own subtree for presence. This mirrors the
// stored layout rather than the directory list, so a subtree created by
// other means also reads as "exists".
func (d *Directory) Exists(ctx context.Context, email string) (bool, error) {
	_, err := d.store.Get(ctx, identity.SafeEmail(email))
	if errors.Is(err, tree.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, identity.OpError{Op: "chat.Directory.Exists", Kind: identity.ErrFetch, Msg: err.Error()}
	}
	return true, nil
}

// ListAll returns every directory entry sorted by display name. It fails
// with an ErrFetch kind if the directory root is absent or not map-shaped;
// entries missing fields are skipped.
func (d *Directory) ListAll(ctx context.Context) ([]DirectoryEntry, error) {
	const op = "chat.Directory.ListAll"

	v, err := d.store.Get(ctx, directoryPath)
	if err != nil {
		return nil, identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}
	byEmail, ok := v.(map[string]any)
	if !ok {
		return nil, identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: "directory is not map-shaped"}
	}

	out := make([]DirectoryEntry, 0, len(byEmail))
	for _, e := range byEmail {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		email, _ := m["email"].(string)
		if name == "" || email == "" {
			continue
		}
		out = append(out, DirectoryEntry{Name: name, Email: email})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

// Search returns directory entries whose display name starts with prefix,
// case-insensitively. The match is computed client-side over the full
// directory; there is no server-side search.
func (d *Directory) Search(ctx context.Context, prefix string) ([]DirectoryEntry, error) {
	all, err := d.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	p := strings.ToLower(strings.TrimSpace(prefix))
	if p == "" {
		return all, nil
	}
	out := make([]DirectoryEntry, 0, len(all))
	for _, e := range all {
		if strings.HasPrefix(strings.ToLower(e.Name), p) {
			out = append(out, e)
		}
	}
	return out, nil
}

// PasswordHash returns the stored credential hash for a user, or an
// ErrNotFound kind when the user or hash is absent.
func (d *Directory) PasswordHash(ctx context.Context, email string) (string, error) {
	const op = "chat.Directory.PasswordHash"

	v, err := d.store.Get(ctx, tree.Join(identity.SafeEmail(email), "password_hash"))
	if errors.Is(err, tree.ErrNotFound) {
		return "", identity.OpError{Op: op, Kind: identity.ErrNotFound, Msg: "no credentials"}
	}
	if err != nil {
		return "", identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}
	hash, ok := v.(string)
	if !ok || hash == "" {
		return "", identity.OpError{Op: op, Kind: identity.ErrNotFound, Msg: "no credentials"}
	}
	return hash, nil
}

// DisplayNameOf resolves a user's display name from their account node.
func (d *Directory) DisplayNameOf(ctx context.Context, email string) (string, error) {
	const op = "chat.Directory.DisplayNameOf"

	v, err := d.store.Get(ctx, identity.SafeEmail(email))
	if errors.Is(err, tree.ErrNotFound) {
		return "", identity.OpError{Op: op, Kind: identity.ErrNotFound, Msg: "user absent"}
	}
	if err != nil {
		return "", identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}
	node, ok := v.(map[string]any)
	if !ok {
		return "", identity.OpError{Op: op, Kind: identity.ErrDecode, Msg: "user node malformed"}
	}
	first, _ := node["first_name"].(string)
	last, _ := node["last_name"].(string)
	return strings.TrimSpace(first + " " + last), nil
}
