package resourcekit

import (
	"fmt"
	"strings"
)

// ConflictPolicy decides what happens when the target name of an add, copy,
// move or rename is already taken.
type ConflictPolicy string

const (
	// ConflictCancel fails the operation with ErrExist.
	ConflictCancel ConflictPolicy = "cancel"
	// ConflictRename picks a free name with UniqueName.
	ConflictRename ConflictPolicy = "rename"
	// ConflictReplace overwrites the existing file.
	ConflictReplace ConflictPolicy = "replace"
)

// ParseConflictPolicy accepts the policy names case insensitively. An empty
// string is ConflictRename.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ConflictRename, nil
	case ConflictCancel, ConflictRename, ConflictReplace:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown conflict policy %q", ErrInvalidArgument, s)
}

func (p ConflictPolicy) String() string { return string(p) }
