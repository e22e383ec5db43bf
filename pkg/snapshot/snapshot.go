// Package snapshot holds captured app pages: per-state screenshots and page
// sources for each platform, plus the locators recorded against them.
package snapshot

import (
	"context"
	"strings"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

// Version is one platform's capture of a state.
type Version struct {
	ScreenShot string `json:"screenShot" yaml:"screenShot"`
	PageSource string `json:"pageSource" yaml:"pageSource"`
}

// State is a single screen of a page, captured per platform.
type State struct {
	ID       string             `json:"id" yaml:"id"`
	Name     string             `json:"name,omitempty" yaml:"name,omitempty"`
	Versions map[string]Version `json:"versions" yaml:"versions"`
}

// Page is a captured page with its states and locators.
type Page struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	States   []State        `json:"states" yaml:"states"`
	Locators []core.Locator `json:"locators,omitempty" yaml:"locators,omitempty"`
}

// Source provides read access to stored pages.
type Source interface {
	LoadPage(ctx context.Context, id string) (*Page, error)
}

// State returns the state with the given id.
func (p *Page) State(id string) (*State, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.States {
		if p.States[i].ID == id {
			return &p.States[i], true
		}
	}
	return nil, false
}

// Version looks up a platform capture. The platform key is matched exactly
// first, then case-insensitively.
func (s *State) Version(platform string) (Version, bool) {
	if s == nil || s.Versions == nil {
		return Version{}, false
	}
	if v, ok := s.Versions[platform]; ok {
		return v, true
	}
	for k, v := range s.Versions {
		if strings.EqualFold(k, platform) {
			return v, true
		}
	}
	return Version{}, false
}

// Lookup resolves the capture for (stateID, platform). The error is
// core.ErrMissingStateData or core.ErrMissingPlatformVersion.
func (p *Page) Lookup(stateID string, platform core.Platform) (Version, error) {
	st, ok := p.State(stateID)
	if !ok {
		return Version{}, core.ErrMissingStateData.WithDetails(map[string]interface{}{"stateId": stateID})
	}
	v, ok := st.Version(string(platform))
	if !ok {
		return Version{}, core.ErrMissingPlatformVersion.WithDetails(map[string]interface{}{
			"stateId":  stateID,
			"platform": string(platform),
		})
	}
	return v, nil
}
