package resourcekit

// Subject is the acting caller. It supplies permission bits and the file
// mounts it may traverse in a storage; how these were derived (groups,
// roles) is not the storage layer's concern.
type Subject interface {
	FilePermissions() UserPermissions
	FileMounts(storageUID int) []MountDefinition
}

// StaticSubject is a Subject with fixed permissions and mounts.
type StaticSubject struct {
	Permissions UserPermissions
	// Mounts are keyed by storage uid.
	Mounts map[int][]MountDefinition
}

func (s *StaticSubject) FilePermissions() UserPermissions { return s.Permissions }

func (s *StaticSubject) FileMounts(storageUID int) []MountDefinition {
	return s.Mounts[storageUID]
}

// AdminSubject has every permission bit and the whole of every storage
// mounted.
type AdminSubject struct{}

func (AdminSubject) FilePermissions() UserPermissions { return FullAccess() }

func (AdminSubject) FileMounts(int) []MountDefinition {
	return []MountDefinition{{Identifier: "/", Title: "Storage root"}}
}
