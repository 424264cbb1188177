package credentials

import (
	"fmt"
	"sort"
)

// AppRepository resolves registered applications.
type AppRepository interface {
	// Get returns the application named name for provider. An empty name
	// selects the single application registered for provider.
	Get(provider, name string) (AppInfo, error)
}

// MapAppRepository is an in-memory AppRepository keyed by "provider.name".
type MapAppRepository struct {
	apps map[string]AppInfo
}

// NewMapAppRepository indexes apps by their Key.
func NewMapAppRepository(apps ...AppInfo) *MapAppRepository {
	m := &MapAppRepository{apps: make(map[string]AppInfo, len(apps))}
	for _, a := range apps {
		m.apps[a.Key()] = a
	}

	return m
}

func (m *MapAppRepository) Get(provider, name string) (AppInfo, error) {
	if name != "" {
		app, ok := m.apps[provider+"."+name]
		if !ok {
			return AppInfo{}, fmt.Errorf("%w for provider %q and name %q", ErrNoApp, provider, name)
		}

		return app, nil
	}

	var found []AppInfo

	for _, a := range m.apps {
		if a.Provider == provider {
			found = append(found, a)
		}
	}

	switch len(found) {
	case 0:
		return AppInfo{}, fmt.Errorf("%w for provider %q", ErrNoApp, provider)
	case 1:
		return found[0], nil
	default:
		return AppInfo{}, fmt.Errorf("%w for provider %q", ErrAmbiguousApp, provider)
	}
}

// Apps returns every application, sorted by key.
func (m *MapAppRepository) Apps() []AppInfo {
	out := make([]AppInfo, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })

	return out
}
