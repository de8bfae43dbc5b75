package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// GlobalPartition is the one well-known partition shared by the deployment.
	GlobalPartition = "isl_global"

	// ProjectPrefix prefixes project-scope partition names.
	ProjectPrefix = "isl_p_"

	// LocalPrefix prefixes dataset partition names.
	LocalPrefix = "isl_l_"

	// LegacyPrefix marks partitions named from a filesystem path hash.
	// New ingestions never produce it.
	LegacyPrefix = "isl_legacy_"

	// MaxNameLength is the longest partition name any backend accepts.
	MaxNameLength = 64

	// localSeparator joins project and dataset components. Sanitized
	// components never contain it because underscore runs are collapsed.
	localSeparator = "__"

	maxComponent = (MaxNameLength - len(LocalPrefix) - len(localSeparator)) / 2
	hashSuffix   = 8
)

var (
	projectNamePattern = regexp.MustCompile(`^isl_p_[a-z0-9]+(_[a-z0-9]+)*$`)
	localNamePattern   = regexp.MustCompile(`^isl_l_([a-z0-9]+(?:_[a-z0-9]+)*)__([a-z0-9]+(?:_[a-z0-9]+)*)$`)
	legacyNamePattern  = regexp.MustCompile(`^isl_legacy_[a-f0-9]{16}$`)
)

// PartitionName derives the deterministic partition name for the given
// context. Identical inputs always yield identical names.
func PartitionName(project, dataset string, level Level) (string, error) {
	if err := Validate(project, dataset, level); err != nil {
		return "", err
	}

	switch level {
	case Global:
		return GlobalPartition, nil
	case Project:
		return ProjectPrefix + component(project), nil
	default:
		return LocalPrefix + component(project) + localSeparator + component(dataset), nil
	}
}

// LocalName is PartitionName for Local scope.
func LocalName(project, dataset string) (string, error) {
	return PartitionName(project, dataset, Local)
}

// Sanitize lowercases s and collapses every run of characters outside
// [a-z0-9] into a single underscore, trimming underscores at both ends.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// component sanitizes a raw name for use inside a partition name. Lossy
// sanitization or truncation appends a short hash of the raw value so that
// distinct raw names stay distinct.
func component(raw string) string {
	clean := Sanitize(raw)
	if clean == raw && len(clean) <= maxComponent {
		return clean
	}

	base := clean
	if limit := maxComponent - hashSuffix - 1; len(base) > limit {
		base = strings.TrimRight(base[:limit], "_")
	}
	sum := sha256.Sum256([]byte(raw))
	suffix := hex.EncodeToString(sum[:])[:hashSuffix]
	if base == "" {
		return "x" + suffix
	}
	return base + "_" + suffix
}

// LegacyPathName returns the legacy path-hash partition name for a
// filesystem path. Only the migration tooling uses it, to recognize
// partitions created by earlier deployments.
func LegacyPathName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return LegacyPrefix + hex.EncodeToString(sum[:])[:16]
}

// IsLegacy reports whether name belongs to the legacy namespace.
func IsLegacy(name string) bool {
	return legacyNamePattern.MatchString(name)
}

// Recognized reports whether name follows one of the deployment's
// partition naming patterns, legacy included.
func Recognized(name string) bool {
	return name == GlobalPartition ||
		projectNamePattern.MatchString(name) ||
		localNamePattern.MatchString(name) ||
		IsLegacy(name)
}

// BelongsToProject reports whether a recognized partition name was derived
// from the given project. Legacy names carry no project identity and never
// match.
func BelongsToProject(name, project string) bool {
	if project == "" {
		return false
	}
	comp := component(project)
	if name == ProjectPrefix+comp {
		return true
	}
	m := localNamePattern.FindStringSubmatch(name)
	return m != nil && m[1] == comp
}
