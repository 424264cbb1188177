package config

import (
	"sort"

	"github.com/netheos/pcsgo/internal/credentials"
)

// AppInfos returns the [apps] tables as application descriptions, sorted
// by provider then name.
func (c *Config) AppInfos() []credentials.AppInfo {
	var out []credentials.AppInfo

	for provider, named := range c.Apps {
		for name, a := range named {
			out = append(out, credentials.AppInfo{
				Provider:     provider,
				Name:         name,
				ClientID:     a.ClientID,
				ClientSecret: a.ClientSecret,
				Scope:        append([]string(nil), a.Scope...),
				RedirectURL:  a.RedirectURL,
				Endpoint:     a.Endpoint,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})

	return out
}

// AppRepository indexes the configured applications.
func (c *Config) AppRepository() *credentials.MapAppRepository {
	return credentials.NewMapAppRepository(c.AppInfos()...)
}
