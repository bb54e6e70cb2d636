// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workshop

import (
	"maps"
	"slices"
	"strings"
)

// Role is a user's standing in a workshop.
type Role int

const (
	// RoleNone means the user's groups carry the workshop's slug but
	// no role token. Such workshops are never acted upon.
	RoleNone Role = iota

	// RoleCrew members are invited to an existing space.
	RoleCrew

	// RoleOwner members may create the space and administer it.
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleCrew:
		return "crew"
	default:
		return "none"
	}
}

// Group is a directory group reduced to what classification reads.
type Group struct {
	// Name is the group name, matched against the role tokens.
	Name string

	// Slug is the workshop-slug attribute. Groups without one are not
	// workshop groups.
	Slug string

	// DisplayName is the workshop-name attribute.
	DisplayName string
}

// WorkshopGroup is a user's merged membership in one workshop.
type WorkshopGroup struct {
	// Slug identifies the workshop, trimmed of surrounding space. It
	// is the input to Naming.Alias.
	Slug string

	// DisplayName is the first non-empty workshop-name attribute among
	// the merged groups, or Slug when none carries one. Rooms are named
	// after it; it is never part of an alias.
	DisplayName string

	// Role is the highest role any merged group confers.
	Role Role
}

// RoleTokens are the substrings that mark a group name as conferring
// the owner or crew role.
//
// An empty token matches nothing.
type RoleTokens struct {
	Owner string
	Crew  string
}

// Classify merges groups by slug. A slug's role is Owner if any of its
// groups' names contains the owner token (case-insensitively), else
// Crew if any contains the crew token. Slugs with neither are left
// out, as are groups without a slug.
func Classify(groups []Group, tokens RoleTokens) map[string]WorkshopGroup {
	owner := strings.ToLower(tokens.Owner)
	crew := strings.ToLower(tokens.Crew)

	merged := make(map[string]WorkshopGroup)
	for _, group := range groups {
		slug := strings.TrimSpace(group.Slug)
		if slug == "" {
			continue
		}
		workshop := merged[slug]
		workshop.Slug = slug
		if workshop.DisplayName == "" {
			workshop.DisplayName = strings.TrimSpace(group.DisplayName)
		}
		workshop.Role = max(workshop.Role, roleOf(strings.ToLower(group.Name), owner, crew))
		merged[slug] = workshop
	}

	for slug, workshop := range merged {
		if workshop.Role == RoleNone {
			delete(merged, slug)
			continue
		}
		if workshop.DisplayName == "" {
			workshop.DisplayName = slug
			merged[slug] = workshop
		}
	}
	return merged
}

func roleOf(name, owner, crew string) Role {
	switch {
	case owner != "" && strings.Contains(name, owner):
		return RoleOwner
	case crew != "" && strings.Contains(name, crew):
		return RoleCrew
	default:
		return RoleNone
	}
}

// SortedSlugs returns the slugs of workshops in lexical order.
func SortedSlugs(workshops map[string]WorkshopGroup) []string {
	return slices.Sorted(maps.Keys(workshops))
}
