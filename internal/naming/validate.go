package naming

import (
	"fmt"
	"strings"
)

// ValidateFileName checks that a name is allowed on the filesystems we care
// about (Windows, macOS, Linux). In practice the rules broadly overlap; the
// only surprise is Windows with its reserved device names.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file names cannot be empty")
	}
	if strings.HasSuffix(name, " ") {
		return fmt.Errorf("file names cannot end with a space")
	}
	if strings.HasSuffix(name, ".") {
		return fmt.Errorf("file names cannot end with '.'")
	}

	for _, ch := range name {
		if _, forbidden := charTokens[ch]; forbidden && ch != '~' {
			return fmt.Errorf(`file names cannot contain <, >, :, ", /, |, ?, *, or \`)
		}
		if ch < 0x20 {
			return fmt.Errorf("file names cannot contain control characters")
		}
	}

	stem := name
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		stem = name[:dot]
	}
	if isReservedName(stem) {
		return fmt.Errorf("files cannot be named %s", stem)
	}

	return nil
}
