package naming

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SuffixMarker separates a slug from its numeric dedup suffix. It is one of
// the encoder's forbidden characters, so a literal '~' can never survive
// into an encoded name: any tilde found in a filename is a dedup suffix.
const SuffixMarker = '~'

// SuffixStart is the first suffix number the generator hands out. The bare
// name is the implicit first member of a dedup group, so explicit suffixes
// begin at 2. Older trees were written with suffixes starting at 1;
// ParseSuffix still accepts those.
const SuffixStart = 2

// Deduplicate returns a name guaranteed not to be present in taken,
// case-insensitively (Windows and macOS filesystems fold case). The caller
// must populate taken with lowercased entries.
//
// If base is free it is returned unchanged; otherwise the lowest unused
// suffix >= SuffixStart is appended.
func Deduplicate(base string, taken map[string]struct{}) string {
	if _, exists := taken[strings.ToLower(base)]; !exists {
		return base
	}
	for i := SuffixStart; ; i++ {
		candidate := fmt.Sprintf("%s%c%d", base, SuffixMarker, i)
		if _, exists := taken[strings.ToLower(candidate)]; !exists {
			return candidate
		}
	}
}

// ParseSuffix recognizes a trailing dedup suffix on a filename stem. Given
// "Foo~3" it returns ("Foo", 3, true). Marker-without-digits, zero, and
// non-numeric suffixes are not suffixes at all. Any positive integer is
// accepted, including values below SuffixStart, for reading trees written
// under the older starting policy.
func ParseSuffix(stem string) (base string, n int, ok bool) {
	pos := strings.LastIndexByte(stem, SuffixMarker)
	if pos < 0 {
		return "", 0, false
	}
	num, err := strconv.Atoi(stem[pos+1:])
	if err != nil || num <= 0 {
		return "", 0, false
	}
	// Reject "+1", "01"-style spellings the generator never writes
	if stem[pos+1:] != strconv.Itoa(num) {
		return "", 0, false
	}
	return stem[:pos], num, true
}

// StripSuffix removes a dedup suffix from a stem, returning the stem
// unchanged if it carries none.
func StripSuffix(stem string) string {
	if base, _, ok := ParseSuffix(stem); ok {
		return base
	}
	return stem
}

// BuildName assembles a filename from a base stem, an optional suffix
// (0 means none), and an optional extension ("" for directories).
func BuildName(base string, suffix int, ext string) string {
	stem := base
	if suffix > 0 {
		stem = fmt.Sprintf("%s%c%d", base, SuffixMarker, suffix)
	}
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

// GroupMember is one surviving member of a dedup group: its current stem
// (slug plus optional suffix) and its format extension. Members of one group
// can carry different extensions; a directory and a file may share a slug.
type GroupMember struct {
	Stem string
	Ext  string
}

// Rename is a single filesystem rename produced by dedup cleanup.
type Rename struct {
	From string
	To   string
}

// CleanupAfterDelete computes the renames needed to restore the group's
// naming invariant after one member was deleted.
//
// Two behaviors, intentionally distinct:
//   - A suffixed middle member was deleted: the gap is tolerable, nothing is
//     renamed. Readers accept arbitrary suffix values.
//   - The bare member was deleted: the lowest-suffixed survivor is promoted
//     to bare, and the remaining suffixed members are renumbered contiguously
//     from SuffixStart.
//
// remaining holds every member that still exists (the deleted one excluded),
// all sharing the same base slug once suffixes are stripped.
func CleanupAfterDelete(remaining []GroupMember, deletedWasBase bool) []Rename {
	if len(remaining) == 0 {
		return nil
	}

	// Group shrank to one survivor: it gets the bare name no matter which
	// member was deleted.
	if len(remaining) == 1 {
		m := remaining[0]
		base, n, ok := ParseSuffix(m.Stem)
		if !ok || n == 0 {
			return nil
		}
		return []Rename{{
			From: BuildName(base, n, m.Ext),
			To:   BuildName(base, 0, m.Ext),
		}}
	}

	if !deletedWasBase {
		// Gap-tolerant: no renumbering for middle deletions.
		return nil
	}

	// The bare holder is gone. Sort survivors by suffix so the promotion and
	// renumbering are deterministic regardless of input order.
	type suffixed struct {
		member GroupMember
		base   string
		n      int
	}
	var members []suffixed
	for _, m := range remaining {
		base, n, ok := ParseSuffix(m.Stem)
		if !ok {
			// A bare survivor means the deleted member was not actually the
			// base holder; leave the group alone.
			return nil
		}
		members = append(members, suffixed{member: m, base: base, n: n})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].n < members[j].n })

	var renames []Rename
	// Lowest survivor takes the bare name; the rest close ranks from
	// SuffixStart.
	for i, m := range members {
		want := 0
		if i > 0 {
			want = SuffixStart + i - 1
		}
		if m.n == want || (i == 0 && m.n == 0) {
			continue
		}
		renames = append(renames, Rename{
			From: BuildName(m.base, m.n, m.member.Ext),
			To:   BuildName(m.base, want, m.member.Ext),
		})
	}
	return renames
}
