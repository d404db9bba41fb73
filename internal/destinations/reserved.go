package destinations

import "strings"

// Reserved namespaces. Secrets stored under these prefixes configure the
// replicator and are never replicated themselves.
const (
	ReservedPrefix        = "secrets-replicator/"
	FiltersPrefix         = ReservedPrefix + "filters/"
	NamesPrefix           = ReservedPrefix + "names/"
	TransformationsPrefix = ReservedPrefix + "transformations/"
	ConfigPrefix          = ReservedPrefix + "config/"

	// DefaultDestinationsKey holds the destination list.
	DefaultDestinationsKey = ConfigPrefix + "destinations"
)

var reservedPrefixes = []string{
	FiltersPrefix,
	NamesPrefix,
	TransformationsPrefix,
	ConfigPrefix,
}

// ReservedPrefixes returns the prefixes excluded from replication
func ReservedPrefixes() []string {
	out := make([]string, len(reservedPrefixes))
	copy(out, reservedPrefixes)
	return out
}

// IsReserved reports whether id lives in a reserved namespace. ARNs are
// matched on their secret-name portion.
func IsReserved(id string) bool {
	name := nameFromARN(id)
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// TransformationKey returns the key holding the rule text of a named
// transformation.
func TransformationKey(name string) string {
	return qualify(TransformationsPrefix, name)
}

// FiltersKey returns the key of a filter ruleset reference.
func FiltersKey(ref string) string {
	return qualify(FiltersPrefix, ref)
}

// NamesKey returns the key of a name mapping reference.
func NamesKey(ref string) string {
	return qualify(NamesPrefix, ref)
}

// qualify places a bare reference under prefix. References that already
// contain a '/' or are ARNs are used as given.
func qualify(prefix, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "arn:") || strings.Contains(ref, "/") {
		return ref
	}
	return prefix + ref
}

// nameFromARN extracts the secret name from a Secrets Manager ARN, dropping
// the six character random suffix the service appends.
func nameFromARN(id string) string {
	if !strings.HasPrefix(id, "arn:") {
		return id
	}
	_, name, ok := strings.Cut(id, ":secret:")
	if !ok {
		return id
	}
	if i := strings.LastIndexByte(name, '-'); i >= 0 && len(name)-i == 7 {
		name = name[:i]
	}
	return name
}
