// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workshop

import (
	"slices"
	"testing"
)

var testTokens = RoleTokens{Owner: "owner", Crew: "crew"}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		groups []Group
		want   map[string]WorkshopGroup
	}{
		{
			name: "owner and crew merge to owner",
			groups: []Group{
				{Name: "workshop-x owner-approved", Slug: "x", DisplayName: "Workshop X"},
				{Name: "workshop-x crew-approved", Slug: "x", DisplayName: "Workshop X"},
			},
			want: map[string]WorkshopGroup{"x": {Slug: "x", DisplayName: "Workshop X", Role: RoleOwner}},
		},
		{
			name: "owner wins regardless of order",
			groups: []Group{
				{Name: "x CREW", Slug: "x"},
				{Name: "x Owner", Slug: "x"},
			},
			want: map[string]WorkshopGroup{"x": {Slug: "x", DisplayName: "x", Role: RoleOwner}},
		},
		{
			name: "crew only",
			groups: []Group{
				{Name: "pottery-crew", Slug: "pottery", DisplayName: "Pottery Workshop"},
			},
			want: map[string]WorkshopGroup{"pottery": {Slug: "pottery", DisplayName: "Pottery Workshop", Role: RoleCrew}},
		},
		{
			name: "groups without slug are excluded",
			groups: []Group{
				{Name: "staff owner"},
				{Name: "board", DisplayName: "Board"},
				{Name: "  ", Slug: "   "},
			},
			want: map[string]WorkshopGroup{},
		},
		{
			name: "role none is dropped",
			groups: []Group{
				{Name: "pottery-members", Slug: "pottery", DisplayName: "Pottery"},
			},
			want: map[string]WorkshopGroup{},
		},
		{
			name: "display name from first group that has one",
			groups: []Group{
				{Name: "wood crew", Slug: "wood"},
				{Name: "wood owner", Slug: "wood", DisplayName: "Holzwerkstatt"},
				{Name: "wood owner 2", Slug: "wood", DisplayName: "Other"},
			},
			want: map[string]WorkshopGroup{"wood": {Slug: "wood", DisplayName: "Holzwerkstatt", Role: RoleOwner}},
		},
		{
			name: "independent slugs",
			groups: []Group{
				{Name: "a owner", Slug: "a", DisplayName: "A"},
				{Name: "b crew", Slug: "b", DisplayName: "B"},
			},
			want: map[string]WorkshopGroup{
				"a": {Slug: "a", DisplayName: "A", Role: RoleOwner},
				"b": {Slug: "b", DisplayName: "B", Role: RoleCrew},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Classify(test.groups, testTokens)
			if len(got) != len(test.want) {
				t.Fatalf("Classify = %+v, want %+v", got, test.want)
			}
			for slug, want := range test.want {
				if got[slug] != want {
					t.Errorf("Classify[%q] = %+v, want %+v", slug, got[slug], want)
				}
			}
		})
	}
}

func TestClassifyEmptyTokensNeverMatch(t *testing.T) {
	got := Classify([]Group{{Name: "anything", Slug: "x"}}, RoleTokens{})
	if len(got) != 0 {
		t.Errorf("empty tokens matched: %+v", got)
	}
}

func TestClassifyNeverEmitsGroupsWithoutSlug(t *testing.T) {
	names := []string{"owner", "crew", "OWNER crew", "", "workshop owner-approved"}
	for _, name := range names {
		got := Classify([]Group{{Name: name, DisplayName: "Named"}}, testTokens)
		if len(got) != 0 {
			t.Errorf("group %q without slug produced %+v", name, got)
		}
	}
}

func TestSortedSlugs(t *testing.T) {
	workshops := map[string]WorkshopGroup{"wood": {}, "metal": {}, "pottery": {}}
	got := SortedSlugs(workshops)
	if !slices.Equal(got, []string{"metal", "pottery", "wood"}) {
		t.Errorf("SortedSlugs = %v", got)
	}
}

func TestRoleString(t *testing.T) {
	for role, want := range map[Role]string{RoleNone: "none", RoleCrew: "crew", RoleOwner: "owner"} {
		if role.String() != want {
			t.Errorf("%d.String() = %q, want %q", role, role.String(), want)
		}
	}
}
