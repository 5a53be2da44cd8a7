package language

import (
	"fmt"
	"strings"
	"time"

	"github.com/sakif/code-runner/internal/apperror"
)

// Override adjusts one built-in profile from configuration.
// Zero values leave the built-in setting untouched.
type Override struct {
	Image          string
	DefaultTimeout time.Duration
	Disabled       bool
}

// Registry resolves language identifiers to profiles.
// It is read-only after New returns.
type Registry struct {
	profiles []Profile
	byID     map[string]int
}

// New builds a registry from profiles, applying overrides keyed by language id.
// Default timeouts are capped at maxTimeout so /languages never advertises a
// value the server would clamp anyway.
func New(profiles []Profile, overrides map[string]Override, maxTimeout time.Duration) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(profiles))}

	norm := make(map[string]Override, len(overrides))
	for id, o := range overrides {
		if !containsID(profiles, id) {
			return nil, fmt.Errorf("language override for unknown language %q", id)
		}
		norm[strings.ToLower(id)] = o
	}
	overrides = norm

	for _, p := range profiles {
		p.ID = strings.ToLower(p.ID)
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate language %q", p.ID)
		}

		if o, ok := overrides[p.ID]; ok {
			if o.Disabled {
				continue
			}
			if o.Image != "" {
				p.Image = o.Image
			}
			if o.DefaultTimeout > 0 {
				p.DefaultTimeout = o.DefaultTimeout
			}
		}
		if maxTimeout > 0 && (p.DefaultTimeout <= 0 || p.DefaultTimeout > maxTimeout) {
			p.DefaultTimeout = maxTimeout
		}
		if p.Image == "" || p.RunTemplate == "" {
			return nil, fmt.Errorf("language %q needs an image and a run command", p.ID)
		}

		r.byID[p.ID] = len(r.profiles)
		r.profiles = append(r.profiles, p)
	}

	if len(r.profiles) == 0 {
		return nil, fmt.Errorf("no languages enabled")
	}
	return r, nil
}

// Resolve looks a language up case-insensitively.
func (r *Registry) Resolve(id string) (Profile, error) {
	i, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Profile{}, apperror.UnsupportedLanguage(id)
	}
	return r.profiles[i], nil
}

// List returns the profiles in display order. The slice is a copy.
func (r *Registry) List() []Profile {
	out := make([]Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// IDs returns the supported language identifiers in display order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.profiles))
	for i, p := range r.profiles {
		ids[i] = p.ID
	}
	return ids
}

// Images returns the distinct images used by the registry.
func (r *Registry) Images() []string {
	seen := make(map[string]bool)
	var images []string
	for _, p := range r.profiles {
		if !seen[p.Image] {
			seen[p.Image] = true
			images = append(images, p.Image)
		}
	}
	return images
}

func containsID(profiles []Profile, id string) bool {
	for _, p := range profiles {
		if strings.EqualFold(p.ID, id) {
			return true
		}
	}
	return false
}
