package capture

import (
	"net/url"
	"strings"

	"github.com/graphsnap/graphsnap/internal/models"
)

// RelationFromURL inspects a request URL and reports which relation-kind
// endpoint family it belongs to. Two families are recognized: the GraphQL
// timeline operations (path segment "Following"/"Followers", including the
// verified-followers variant) and the page-style paths
// "/<account>/following" and "/<account>/followers".
func RelationFromURL(rawURL string) (models.RelationKind, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	segments := pathSegments(parsed.Path)
	if len(segments) == 0 {
		return "", false
	}

	switch last := segments[len(segments)-1]; {
	case last == "Following" || strings.EqualFold(last, "following"):
		return models.RelationFollowing, true
	case last == "Followers" || last == "BlueVerifiedFollowers" || strings.EqualFold(last, "followers"):
		return models.RelationFollowers, true
	}

	return "", false
}

// MatchEndpoint reports whether a URL belongs to one of the two captured
// endpoint families.
func MatchEndpoint(rawURL string) bool {
	_, ok := RelationFromURL(rawURL)
	return ok
}

// PageContextFromURL derives (account, relation) from a page-style URL like
// https://host/alice/following. GraphQL endpoint URLs carry no account name
// in their path and do not match.
func PageContextFromURL(rawURL string) (models.PageContext, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return models.PageContext{}, false
	}

	segments := pathSegments(parsed.Path)
	if len(segments) != 2 {
		return models.PageContext{}, false
	}

	var kind models.RelationKind
	switch strings.ToLower(segments[1]) {
	case "following":
		kind = models.RelationFollowing
	case "followers":
		kind = models.RelationFollowers
	default:
		return models.PageContext{}, false
	}

	account := segments[0]
	if account == "" || account == "i" || account == "home" {
		return models.PageContext{}, false
	}

	return models.PageContext{Account: account, Relation: kind, URL: rawURL}, true
}

func pathSegments(path string) []string {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}
