package credentials

import (
	"context"
	"fmt"
	"sort"
)

// Store persists user credentials.
type Store interface {
	// Save inserts or replaces the credentials of (App, UserID).
	Save(ctx context.Context, uc *UserCredentials) error
	// Get returns the credentials of userID for app. An empty userID selects
	// the single user stored for app.
	Get(ctx context.Context, app AppInfo, userID string) (*UserCredentials, error)
	// Users lists the user ids stored for app, sorted.
	Users(ctx context.Context, app AppInfo) ([]string, error)
	// Delete removes the credentials of userID; it reports whether they existed.
	Delete(ctx context.Context, app AppInfo, userID string) (bool, error)
}

// selectUser applies the lookup rule shared by stores: an explicit userID
// must exist; an empty one must match exactly one stored user.
func selectUser(app AppInfo, userID string, entries map[string]Credentials) (*UserCredentials, error) {
	if userID != "" {
		c, ok := entries[userID]
		if !ok {
			return nil, fmt.Errorf("%w for %s and user %q", ErrNoCredentials, app, userID)
		}

		return &UserCredentials{App: app, UserID: userID, Credentials: c}, nil
	}

	switch len(entries) {
	case 0:
		return nil, fmt.Errorf("%w for %s", ErrNoCredentials, app)
	case 1:
		for id, c := range entries {
			return &UserCredentials{App: app, UserID: id, Credentials: c}, nil
		}
	}

	return nil, fmt.Errorf("%w for %s", ErrAmbiguousUser, app)
}

func sortedKeys(m map[string]Credentials) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
