package capture

import (
	"testing"

	"github.com/graphsnap/graphsnap/internal/models"
)

func TestRelationFromURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		relation models.RelationKind
		match    bool
	}{
		{"graphql following", "https://x.com/i/api/graphql/abc123/Following?variables=%7B%7D", models.RelationFollowing, true},
		{"graphql followers", "https://x.com/i/api/graphql/abc123/Followers", models.RelationFollowers, true},
		{"graphql verified followers", "https://x.com/i/api/graphql/abc123/BlueVerifiedFollowers", models.RelationFollowers, true},
		{"page following", "https://x.com/alice/following", models.RelationFollowing, true},
		{"page followers", "https://x.com/alice/followers", models.RelationFollowers, true},
		{"trailing slash", "https://x.com/alice/following/", models.RelationFollowing, true},
		{"unrelated graphql op", "https://x.com/i/api/graphql/abc123/UserByScreenName", "", false},
		{"profile page", "https://x.com/alice", "", false},
		{"empty path", "https://x.com", "", false},
		{"not a url", "::::", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relation, ok := RelationFromURL(tt.url)
			if ok != tt.match {
				t.Fatalf("RelationFromURL(%q) match = %v, want %v", tt.url, ok, tt.match)
			}
			if ok && relation != tt.relation {
				t.Errorf("RelationFromURL(%q) = %q, want %q", tt.url, relation, tt.relation)
			}
		})
	}
}

func TestPageContextFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		account string
		kind    models.RelationKind
		match   bool
	}{
		{"following page", "https://x.com/alice/following", "alice", models.RelationFollowing, true},
		{"followers page", "https://x.com/alice/followers", "alice", models.RelationFollowers, true},
		{"uppercase segment", "https://x.com/alice/Following", "alice", models.RelationFollowing, true},
		{"graphql endpoint has no account", "https://x.com/i/api/graphql/abc123/Following", "", "", false},
		{"reserved account i", "https://x.com/i/following", "", "", false},
		{"reserved account home", "https://x.com/home/followers", "", "", false},
		{"profile page", "https://x.com/alice", "", "", false},
		{"extra segments", "https://x.com/alice/following/extra", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, ok := PageContextFromURL(tt.url)
			if ok != tt.match {
				t.Fatalf("PageContextFromURL(%q) match = %v, want %v", tt.url, ok, tt.match)
			}
			if !ok {
				return
			}
			if page.Account != tt.account {
				t.Errorf("account = %q, want %q", page.Account, tt.account)
			}
			if page.Relation != tt.kind {
				t.Errorf("relation = %q, want %q", page.Relation, tt.kind)
			}
			if page.URL != tt.url {
				t.Errorf("url = %q, want %q", page.URL, tt.url)
			}
		})
	}
}
