// Package refpath computes and resolves the relative path strings used to
// persist reference properties on disk.
//
// Paths are slash-separated chains of filesystem names from the root's
// children downward. The relative forms follow require-by-string semantics:
//
//	@self           the owning instance itself
//	@self/...       a descendant of the owning instance
//	./...           starts at the owning instance's parent (sibling access)
//	../...          one extra level up per repetition
//	@root/...       absolute from the tree root
//
// Generation is case-sensitive: paths are generated from the canonical
// on-disk names. Resolution is case-insensitive to tolerate OS case-folding.
// The asymmetry is intentional and safe because generation always uses the
// canonical casing on record.
package refpath

import (
	"strings"
)

// RefAttributePrefix prefixes attributes holding path-based references.
// "Sync_Ref_PrimaryPart" holds the path to the PrimaryPart target.
const RefAttributePrefix = "Sync_Ref_"

// RefIDAttribute is the legacy attribute naming an instance's stable id.
const RefIDAttribute = "Sync_Id"

// RefTargetAttributePrefix prefixes legacy id-based pointer attributes.
const RefTargetAttributePrefix = "Sync_Target_"

// RootPrefix marks a path as absolute from the tree root.
const RootPrefix = "@root"

// SelfPrefix marks a path as relative to the owning instance.
const SelfPrefix = "@self"

// RefAttributeName returns the path-attribute name for a property.
func RefAttributeName(property string) string {
	return RefAttributePrefix + property
}

// RefTargetAttributeName returns the legacy id-attribute name for a property.
func RefTargetAttributeName(property string) string {
	return RefTargetAttributePrefix + property
}

// EscapeSegment escapes literal separator characters inside one path
// segment. Instance names can contain '/' (the encoder only guards
// filesystem names, and ref paths are built from display names on the live
// side); an unescaped one would corrupt path structure.
func EscapeSegment(name string) string {
	if !strings.ContainsAny(name, `/\`) {
		return name
	}
	name = strings.ReplaceAll(name, `\`, `\\`)
	return strings.ReplaceAll(name, `/`, `\/`)
}

// UnescapeSegment reverses EscapeSegment. Unknown escape pairs pass through
// with their backslash intact.
func UnescapeSegment(segment string) string {
	if !strings.ContainsRune(segment, '\\') {
		return segment
	}
	var b strings.Builder
	b.Grow(len(segment))
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if c != '\\' || i == len(segment)-1 {
			b.WriteByte(c)
			continue
		}
		next := segment[i+1]
		switch next {
		case '/', '\\':
			b.WriteByte(next)
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Split breaks a path into unescaped segments, splitting on unescaped '/'
// only.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	var segments []string
	var current strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '\\' && i < len(path)-1:
			current.WriteByte(c)
			current.WriteByte(path[i+1])
			i++
		case c == '/':
			segments = append(segments, UnescapeSegment(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	segments = append(segments, UnescapeSegment(current.String()))
	return segments
}

// Join assembles segments into a path, escaping each one.
func Join(segments []string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = EscapeSegment(s)
	}
	return strings.Join(escaped, "/")
}

// ComputeRelative converts an absolute source/target path pair into the
// shortest relative form. Both inputs are absolute paths as produced by
// Join over canonical on-disk names.
func ComputeRelative(sourceAbs, targetAbs string) string {
	if sourceAbs == targetAbs {
		return SelfPrefix
	}

	if targetAbs != "" && sourceAbs != "" && strings.HasPrefix(targetAbs, sourceAbs+"/") {
		return SelfPrefix + "/" + targetAbs[len(sourceAbs)+1:]
	}

	sourceParts := Split(sourceAbs)
	targetParts := Split(targetAbs)

	common := 0
	for common < len(sourceParts) && common < len(targetParts) &&
		sourceParts[common] == targetParts[common] {
		common++
	}

	// Nothing shared, or the target is an ancestor of the source: fall back
	// to the absolute form. "Go up and stop" has no relative spelling here.
	if common == 0 || common == len(targetParts) {
		return RootPrefix + "/" + targetAbs
	}

	ups := len(sourceParts) - common
	remaining := Join(targetParts[common:])

	if ups == 1 {
		return "./" + remaining
	}
	var b strings.Builder
	for i := 0; i < ups-1; i++ {
		b.WriteString("../")
	}
	b.WriteString(remaining)
	return b.String()
}

// ResolveToAbsolute converts a relative path back to an absolute one using
// only string manipulation, given the absolute path of the attribute's
// owner. Returns false if the path climbs above the root.
func ResolveToAbsolute(relative, sourceAbs string) (string, bool) {
	if relative == RootPrefix {
		return "", true
	}
	if rest, ok := strings.CutPrefix(relative, RootPrefix+"/"); ok {
		return rest, true
	}
	if relative == SelfPrefix {
		return sourceAbs, true
	}

	var parts []string
	var rest string
	switch {
	case strings.HasPrefix(relative, SelfPrefix+"/"):
		parts = Split(sourceAbs)
		rest = relative[len(SelfPrefix)+1:]
	case strings.HasPrefix(relative, "./"):
		parts = Split(sourceAbs)
		if len(parts) == 0 {
			return "", false
		}
		parts = parts[:len(parts)-1]
		rest = relative[2:]
	case strings.HasPrefix(relative, "../"):
		parts = Split(sourceAbs)
		if len(parts) < 2 {
			return "", false
		}
		parts = parts[:len(parts)-2]
		rest = relative[3:]
	default:
		// No recognized prefix: treat as already absolute, for
		// compatibility with hand-written attributes.
		return relative, true
	}

	for _, segment := range Split(rest) {
		switch segment {
		case "..":
			if len(parts) == 0 {
				return "", false
			}
			parts = parts[:len(parts)-1]
		case "":
		default:
			parts = append(parts, segment)
		}
	}
	return Join(parts), true
}

// SegmentsEqualFold compares two path segments the way resolution does:
// case-insensitively, tolerating OS case-folding on lookups.
func SegmentsEqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
