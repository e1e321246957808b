// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package locator maps an application, profile and label onto the
// directories of the served configuration tree that hold its files.
package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cardinalhq/configrunner/internal/configrepo"
)

const (
	DefaultLabel   = "master"
	DefaultProfile = "default"
)

// DefaultSearchPaths lists the serving root, then the application
// directory, then one directory per profile.
var DefaultSearchPaths = []string{"", "{application}", "{application}/{profile}"}

var ErrInvalidName = errors.New("invalid name")

// Repository is the part of configrepo.Repository the locator uses.
type Repository interface {
	Refresh(ctx context.Context) (configrepo.Version, error)
	View(fn func(dir string, v configrepo.Version) error) error
}

// Locations is the ordered set of directories for one request. Later
// entries override earlier ones when composing configuration.
type Locations struct {
	Application string   `json:"application" yaml:"application"`
	Profile     string   `json:"profile" yaml:"profile"`
	Label       string   `json:"label" yaml:"label"`
	Version     string   `json:"version" yaml:"version"`
	Paths       []string `json:"paths" yaml:"paths"`
}

type Options struct {
	SearchPaths  []string
	DefaultLabel string
}

type Locator struct {
	repo         Repository
	searchPaths  []string
	defaultLabel string
}

func New(repo Repository, opts Options) (*Locator, error) {
	if repo == nil {
		return nil, errors.New("locator: repository is required")
	}
	if opts.SearchPaths == nil {
		opts.SearchPaths = DefaultSearchPaths
	}
	if opts.DefaultLabel == "" {
		opts.DefaultLabel = DefaultLabel
	}

	paths := make([]string, 0, len(opts.SearchPaths))
	for _, p := range opts.SearchPaths {
		p = strings.Trim(strings.TrimSpace(p), "/")
		probe := expand(p, "app", "profile", "label")
		if probe != "" && !filepath.IsLocal(filepath.FromSlash(probe)) {
			return nil, fmt.Errorf("locator: search path %q escapes the serving directory", p)
		}
		paths = append(paths, p)
	}

	return &Locator{
		repo:         repo,
		searchPaths:  paths,
		defaultLabel: opts.DefaultLabel,
	}, nil
}

// Locate refreshes the repository and returns the directories that apply
// to the request, broadest first. profile may be a comma separated list.
func (l *Locator) Locate(ctx context.Context, application, profile, label string) (Locations, error) {
	if label == "" {
		label = l.defaultLabel
	}
	profiles := splitProfiles(profile)
	if err := validateName("application", application); err != nil {
		return Locations{}, err
	}
	if application == "" {
		return Locations{}, fmt.Errorf("%w: application is required", ErrInvalidName)
	}
	if err := validateName("label", label); err != nil {
		return Locations{}, err
	}
	for _, p := range profiles {
		if err := validateName("profile", p); err != nil {
			return Locations{}, err
		}
	}

	if _, err := l.repo.Refresh(ctx); err != nil {
		return Locations{}, err
	}

	loc := Locations{
		Application: application,
		Profile:     strings.Join(profiles, ","),
		Label:       label,
	}
	err := l.repo.View(func(dir string, v configrepo.Version) error {
		loc.Version = v.String()
		loc.Paths = l.candidates(dir, application, profiles, label)
		return nil
	})
	return loc, err
}

func (l *Locator) candidates(dir, application string, profiles []string, label string) []string {
	seen := map[string]struct{}{}
	var paths []string
	add := func(rel string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			paths = append(paths, p)
		}
	}

	for _, pattern := range l.searchPaths {
		if !strings.Contains(pattern, "{profile}") {
			add(expand(pattern, application, "", label))
			continue
		}
		for _, p := range profiles {
			add(expand(pattern, application, p, label))
		}
	}
	return paths
}

func expand(pattern, application, profile, label string) string {
	return strings.NewReplacer(
		"{application}", application,
		"{profile}", profile,
		"{label}", label,
	).Replace(pattern)
}

func splitProfiles(profile string) []string {
	var out []string
	for p := range strings.SplitSeq(profile, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{DefaultProfile}
	}
	return out
}

func validateName(kind, name string) error {
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") || name == "." {
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, name)
	}
	return nil
}
