package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Reference is a parsed secret://name?version=N&project=P URI.
type Reference struct {
	// Canonical is the URI without query, used as cache and fallback key.
	Canonical string
	Name      string
	Version   string
	Project   string
}

// ParseReference validates ref. The legacy sm:// scheme is accepted as an alias.
func ParseReference(ref string) (Reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	return Reference{
		Canonical: "secret://" + name,
		Name:      name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// resource is the Secret Manager version path.
func (r Reference) resource(project, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, version)
}

func versionedKey(canonical, version string) string {
	return canonical + "#" + version
}

// cacheKey separates values of the same secret resolved against different projects.
func cacheKey(project, canonical, version string) string {
	return versionedKey(canonical, version) + "@" + project
}

// fingerprint labels metrics without leaking secret names.
func fingerprint(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:6])
}
