// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/directory"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/lib/ref"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/messaging"
	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/workshop"
)

type stubIdentities struct {
	ids map[ref.UserID][]messaging.ExternalID
	err error
}

func (s *stubIdentities) ExternalIDs(_ context.Context, userID ref.UserID) ([]messaging.ExternalID, error) {
	if s.err != nil {
		return nil, s.err
	}
	if userID.Server().String() != testServer {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeUnknown, Message: "Can only look up local users", StatusCode: 400}
	}
	ids, ok := s.ids[userID]
	if !ok {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeNotFound, Message: "User not found", StatusCode: 404}
	}
	return ids, nil
}

type stubGroups struct {
	groups    map[string][]directory.Group
	requested []string
}

func (s *stubGroups) UserGroups(_ context.Context, userID string) ([]directory.Group, error) {
	s.requested = append(s.requested, userID)
	groups, ok := s.groups[userID]
	if !ok {
		return nil, &directory.APIError{Method: "GET", Path: "/admin/realms/werkstatt/users/" + userID + "/groups", StatusCode: 404}
	}
	return groups, nil
}

const keycloakAlice = "0b6f1c9e-5a55-4c47-9b0f-3f1a2f3d2c11"

func testDirectory() (*Directory, *stubGroups) {
	groups := &stubGroups{groups: map[string][]directory.Group{
		keycloakAlice: {
			{
				ID:   "g1",
				Name: "pottery-owner",
				Path: "/workshops/pottery/pottery-owner",
				Attributes: map[string][]string{
					"workshop_slug": {" pottery "},
					"workshop_name": {"Pottery Workshop"},
				},
			},
			{ID: "g2", Name: "newsletter", Path: "/newsletter"},
		},
	}}
	return &Directory{
		Identities: &stubIdentities{ids: map[ref.UserID][]messaging.ExternalID{
			alice: {
				{AuthProvider: "github", ExternalID: "12345"},
				{AuthProvider: "oidc-keycloak", ExternalID: keycloakAlice},
			},
			bob: {{AuthProvider: "github", ExternalID: "67890"}},
		}},
		Groups:        groups,
		Server:        ref.MustParseServerName(testServer),
		Provider:      "oidc-keycloak",
		SlugAttribute: "workshop_slug",
		NameAttribute: "workshop_name",
	}, groups
}

func TestDirectoryWorkshopGroups(t *testing.T) {
	dir, groups := testDirectory()

	result, err := dir.WorkshopGroups(context.Background(), alice)
	if err != nil {
		t.Fatalf("WorkshopGroups failed: %v", err)
	}
	if len(groups.requested) != 1 || groups.requested[0] != keycloakAlice {
		t.Errorf("requested groups of %v, want the oidc-keycloak identity", groups.requested)
	}
	want := []workshop.Group{
		{Name: "pottery-owner", Slug: "pottery", DisplayName: "Pottery Workshop"},
		{Name: "newsletter"},
	}
	if len(result) != len(want) {
		t.Fatalf("result = %+v", result)
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("group %d = %+v, want %+v", i, result[i], want[i])
		}
	}

	classified := workshop.Classify(result, testTokens)
	if classified["pottery"].Role != workshop.RoleOwner {
		t.Errorf("classified = %+v", classified)
	}
}

func TestDirectoryIdentityNotFound(t *testing.T) {
	tests := []struct {
		name   string
		userID ref.UserID
	}{
		{"no keycloak identity", bob},
		{"unknown local user", ref.MustParseUserID("@carol:" + testServer)},
		{"linked identity unknown to keycloak", alice},
		{"user on another server", ref.MustParseUserID("@dave:other.example")},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dir, groups := testDirectory()
			groups.groups = map[string][]directory.Group{}

			_, err := dir.WorkshopGroups(context.Background(), test.userID)
			if !errors.Is(err, ErrIdentityNotFound) {
				t.Errorf("WorkshopGroups(%s) error = %v, want ErrIdentityNotFound", test.userID, err)
			}
		})
	}
}

func TestDirectorySkipsAdminLookupForRemoteUsers(t *testing.T) {
	dir, groups := testDirectory()
	dir.Identities = &stubIdentities{err: errors.New("admin API must not be called")}

	if _, err := dir.WorkshopGroups(context.Background(), ref.MustParseUserID("@dave:other.example")); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("error = %v, want ErrIdentityNotFound", err)
	}
	if len(groups.requested) != 0 {
		t.Errorf("groups requested for a remote user: %v", groups.requested)
	}
}

func TestDirectoryAdminFailure(t *testing.T) {
	dir, _ := testDirectory()
	dir.Identities = &stubIdentities{err: &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "You are not a server admin", StatusCode: 403}}

	_, err := dir.WorkshopGroups(context.Background(), alice)
	if err == nil || errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("error = %v, want a failure other than ErrIdentityNotFound", err)
	}
}

func TestObserveTokenRefresh(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.ObserveTokenRefresh(nil)
	metrics.ObserveTokenRefresh(nil)
	metrics.ObserveTokenRefresh(errors.New("invalid_client"))

	if got := testutil.ToFloat64(metrics.tokenRefresh.WithLabelValues("success")); got != 2 {
		t.Errorf("success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.tokenRefresh.WithLabelValues("failure")); got != 1 {
		t.Errorf("failure = %v, want 1", got)
	}
}
