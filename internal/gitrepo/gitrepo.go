// Package gitrepo parses and validates the repository URLs sessions are
// created with.
package gitrepo

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseRepoURL extracts host, owner, and repo from a git repository URL.
// Accepted shapes: https://host/owner/repo(.git), scp-like
// git@host:owner/repo(.git), ssh://git@host/owner/repo, and the bare
// host/owner/repo form.
func ParseRepoURL(raw string) (host, owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", "", fmt.Errorf("empty repository URL")
	}

	// scp-like syntax: git@host:owner/repo(.git)
	if at := strings.Index(s, "@"); at != -1 && !strings.Contains(s, "://") {
		rest := s[at+1:]
		colon := strings.Index(rest, ":")
		if colon <= 0 {
			return "", "", "", fmt.Errorf("malformed scp-style URL %q", raw)
		}
		host = rest[:colon]
		owner, repo, err = splitOwnerRepo(rest[colon+1:])
		if err != nil {
			return "", "", "", fmt.Errorf("%q: %w", raw, err)
		}
		return host, owner, repo, nil
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", "", "", fmt.Errorf("malformed repository URL %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", "", "", fmt.Errorf("repository URL %q has no host", raw)
	}
	owner, repo, err = splitOwnerRepo(strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return "", "", "", fmt.Errorf("%q: %w", raw, err)
	}
	return u.Hostname(), owner, repo, nil
}

// splitOwnerRepo expects exactly owner/repo, tolerating a trailing slash or
// .git suffix.
func splitOwnerRepo(path string) (string, string, error) {
	path = strings.TrimSuffix(path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected owner/repo path, got %q", path)
	}
	return parts[0], parts[1], nil
}

// ParseOwnerRepo extracts owner and repo from a GitHub URL. Non-GitHub
// inputs return ok=false.
func ParseOwnerRepo(raw string) (owner, repo string, ok bool) {
	host, owner, repo, err := ParseRepoURL(raw)
	if err != nil {
		return "", "", false
	}
	if !strings.EqualFold(host, "github.com") {
		return "", "", false
	}
	return owner, repo, true
}

// CanonicalURL returns the canonical HTTPS URL for a GitHub repository.
func CanonicalURL(owner, repo string) string {
	return "https://github.com/" + owner + "/" + repo
}

// ValidateRepoURL checks that the URL names a host, an owner, and a repo.
func ValidateRepoURL(raw string) error {
	_, _, _, err := ParseRepoURL(raw)
	return err
}
