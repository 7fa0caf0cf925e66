package resourcekit

import (
	"fmt"
	"sort"
	"strings"
)

// Action is something a caller may want to do with a file or folder.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionAdd
	ActionDelete
	ActionRename
	ActionCopy
	ActionMove
	ActionReplace
	ActionEditMeta
	ActionRecursiveDelete
)

var actionNames = map[Action]string{
	ActionRead:            "read",
	ActionWrite:           "write",
	ActionAdd:             "add",
	ActionDelete:          "delete",
	ActionRename:          "rename",
	ActionCopy:            "copy",
	ActionMove:            "move",
	ActionReplace:         "replace",
	ActionEditMeta:        "editMeta",
	ActionRecursiveDelete: "recursivedelete",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// IsRead reports whether a needs read access to the resource.
func (a Action) IsRead() bool {
	switch a {
	case ActionRead, ActionCopy, ActionMove, ActionReplace:
		return true
	}
	return false
}

// IsWrite reports whether a needs write access to the resource.
func (a Action) IsWrite() bool {
	switch a {
	case ActionAdd, ActionWrite, ActionMove, ActionRename, ActionReplace, ActionDelete:
		return true
	}
	return false
}

// ActionSet holds the user permission bits for one resource kind.
type ActionSet struct {
	Read    bool `mapstructure:"read"`
	Write   bool `mapstructure:"write"`
	Add     bool `mapstructure:"add"`
	Delete  bool `mapstructure:"delete"`
	Rename  bool `mapstructure:"rename"`
	Copy    bool `mapstructure:"copy"`
	Move    bool `mapstructure:"move"`
	Replace bool `mapstructure:"replace"`
}

func (s ActionSet) allows(a Action) bool {
	switch a {
	case ActionRead:
		return s.Read
	case ActionWrite:
		return s.Write
	case ActionAdd:
		return s.Add
	case ActionDelete:
		return s.Delete
	case ActionRename:
		return s.Rename
	case ActionCopy:
		return s.Copy
	case ActionMove:
		return s.Move
	case ActionReplace:
		return s.Replace
	}
	return false
}

func (s *ActionSet) set(a Action, v bool) bool {
	switch a {
	case ActionRead:
		s.Read = v
	case ActionWrite:
		s.Write = v
	case ActionAdd:
		s.Add = v
	case ActionDelete:
		s.Delete = v
	case ActionRename:
		s.Rename = v
	case ActionCopy:
		s.Copy = v
	case ActionMove:
		s.Move = v
	case ActionReplace:
		s.Replace = v
	default:
		return false
	}
	return true
}

// AllActions grants every bit.
func AllActions() ActionSet {
	return ActionSet{true, true, true, true, true, true, true, true}
}

// UserPermissions are the permission bits of the acting subject.
type UserPermissions struct {
	File   ActionSet `mapstructure:"file"`
	Folder ActionSet `mapstructure:"folder"`
	// RecursiveFolderDelete allows deleting folders that still have content.
	RecursiveFolderDelete bool `mapstructure:"recursiveFolderDelete"`
}

// FullAccess grants every user permission bit.
func FullAccess() UserPermissions {
	return UserPermissions{File: AllActions(), Folder: AllActions(), RecursiveFolderDelete: true}
}

// Allows reports whether the bits grant action on kind.
func (p UserPermissions) Allows(action Action, kind ResourceKind) bool {
	switch kind {
	case KindFile:
		return p.File.allows(action)
	case KindFolder:
		if action == ActionRecursiveDelete {
			return p.RecursiveFolderDelete
		}
		return p.Folder.allows(action)
	}
	return false
}

// UserPermissionsFromMap reads keys like "readFile", "writeFolder" and
// "recursivedeleteFolder". Unknown keys are rejected.
func UserPermissionsFromMap(bits map[string]bool) (UserPermissions, error) {
	var p UserPermissions
	var unknown []string
	for key, v := range bits {
		if strings.EqualFold(key, "recursivedeleteFolder") {
			p.RecursiveFolderDelete = v
			continue
		}
		ok := false
		for action, name := range actionNames {
			switch {
			case strings.EqualFold(key, name+"File"):
				ok = p.File.set(action, v)
			case strings.EqualFold(key, name+"Folder"):
				ok = p.Folder.set(action, v)
			}
			if ok {
				break
			}
		}
		if !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return UserPermissions{}, fmt.Errorf("%w: unknown permission keys %s", ErrInvalidArgument, strings.Join(unknown, ", "))
	}
	return p, nil
}

// ResourceState is what the evaluator needs to know about one file or
// folder. The storage fills it in from the driver before asking.
type ResourceState struct {
	Identifier string
	Name       string
	Processed  bool
	Missing    bool
	// Permissions are the driver bits; ignored for missing files.
	Permissions Permissions
}

// PermissionEvaluator turns facts into verdicts. It performs no I/O.
type PermissionEvaluator struct {
	Enabled    bool
	User       UserPermissions
	Mounts     []FileMount
	Extensions *ExtensionPolicy
	// Capabilities are the effective storage capabilities.
	Capabilities Capabilities
	// IsWithin is the driver's containment test.
	IsWithin func(folder, identifier string) bool
	// ProcessingFolders are always within mount boundaries.
	ProcessingFolders []string
}

// AllowsUserAction checks the caller's permission bits.
func (e *PermissionEvaluator) AllowsUserAction(action Action, kind ResourceKind) bool {
	if !e.Enabled {
		return true
	}
	return e.User.Allows(action, kind)
}

// AllowsExtension applies the extension deny list.
func (e *PermissionEvaluator) AllowsExtension(name string) bool {
	return e.Extensions.Allows(name)
}

// WithinMounts reports whether identifier lies inside a registered mount.
// For write checks the mount must not be read-only.
func (e *PermissionEvaluator) WithinMounts(identifier string, write bool) bool {
	if !e.Enabled {
		return true
	}
	for _, pf := range e.ProcessingFolders {
		if e.IsWithin(pf, identifier) {
			return true
		}
	}
	for _, m := range e.Mounts {
		if !e.IsWithin(m.Identifier, identifier) {
			continue
		}
		if !write || !m.ReadOnly {
			return true
		}
	}
	return false
}

// AllowsFile decides a file action. Every layer has to pass. With
// evaluation disabled only the extension deny list is consulted.
func (e *PermissionEvaluator) AllowsFile(action Action, f ResourceState) bool {
	if action == ActionEditMeta {
		return !f.Processed && e.WithinMounts(f.Identifier, true)
	}
	if !e.Enabled {
		return e.AllowsExtension(f.Name)
	}
	if !f.Processed && !e.AllowsUserAction(action, KindFile) {
		return false
	}
	if !e.AllowsExtension(f.Name) {
		return false
	}
	isRead, isWrite := action.IsRead(), action.IsWrite()
	if !f.Processed && !e.WithinMounts(f.Identifier, isWrite) {
		return false
	}
	if isWrite && (f.Missing || !e.Capabilities.Writable) {
		return false
	}
	if f.Missing {
		return true
	}
	if isRead && !f.Permissions.Read {
		return false
	}
	if isWrite && !f.Permissions.Write {
		return false
	}
	return true
}

// AllowsFolder decides a folder action. A nil folder only consults the
// user permission bits. Everything is allowed with evaluation disabled.
func (e *PermissionEvaluator) AllowsFolder(action Action, f *ResourceState) bool {
	if !e.Enabled {
		return true
	}
	if !e.AllowsUserAction(action, KindFolder) {
		return false
	}
	if f == nil {
		return true
	}
	isRead := action == ActionRead || action == ActionCopy
	isWrite := action == ActionAdd || action == ActionMove || action == ActionWrite ||
		action == ActionDelete || action == ActionRename || action == ActionRecursiveDelete
	if !e.WithinMounts(f.Identifier, isWrite) {
		return false
	}
	if isRead && !e.Capabilities.Browsable {
		return false
	}
	if isWrite && !e.Capabilities.Writable {
		return false
	}
	if isRead && !f.Permissions.Read {
		return false
	}
	if isWrite && !f.Permissions.Write {
		return false
	}
	return true
}
