package resourcekit

import (
	"strings"
	"testing"
)

func prefixWithin(folder, identifier string) bool {
	f := strings.TrimRight(folder, "/")
	id := strings.TrimRight(identifier, "/")
	return f == id || strings.HasPrefix(id+"/", f+"/")
}

func newTestEvaluator() *PermissionEvaluator {
	return &PermissionEvaluator{
		Enabled: true,
		User:    FullAccess(),
		Mounts: []FileMount{
			{Identifier: "/a/"},
			{Identifier: "/ro/", ReadOnly: true},
		},
		Extensions:        DefaultExtensionPolicy(),
		Capabilities:      Capabilities{Browsable: true, Writable: true},
		IsWithin:          prefixWithin,
		ProcessingFolders: []string{"/_processed_/"},
	}
}

var rw = Permissions{Read: true, Write: true}

func TestAllowsFile(t *testing.T) {
	tests := []struct {
		name   string
		modify func(e *PermissionEvaluator)
		action Action
		file   ResourceState
		want   bool
	}{
		{
			name:   "read inside mount",
			action: ActionRead,
			file:   ResourceState{Identifier: "/a/x.txt", Name: "x.txt", Permissions: rw},
			want:   true,
		},
		{
			name:   "read outside mounts",
			action: ActionRead,
			file:   ResourceState{Identifier: "/b/x.txt", Name: "x.txt", Permissions: rw},
		},
		{
			name:   "read in read-only mount",
			action: ActionRead,
			file:   ResourceState{Identifier: "/ro/x.txt", Name: "x.txt", Permissions: rw},
			want:   true,
		},
		{
			name:   "write in read-only mount",
			action: ActionWrite,
			file:   ResourceState{Identifier: "/ro/x.txt", Name: "x.txt", Permissions: rw},
		},
		{
			name:   "user bit missing",
			modify: func(e *PermissionEvaluator) { e.User.File.Rename = false },
			action: ActionRename,
			file:   ResourceState{Identifier: "/a/x.txt", Name: "x.txt", Permissions: rw},
		},
		{
			name:   "denied extension",
			action: ActionRead,
			file:   ResourceState{Identifier: "/a/shell.php", Name: "shell.php", Permissions: rw},
		},
		{
			name:   "driver refuses write",
			action: ActionWrite,
			file:   ResourceState{Identifier: "/a/x.txt", Name: "x.txt", Permissions: Permissions{Read: true}},
		},
		{
			name:   "storage not writable",
			modify: func(e *PermissionEvaluator) { e.Capabilities.Writable = false },
			action: ActionDelete,
			file:   ResourceState{Identifier: "/a/x.txt", Name: "x.txt", Permissions: rw},
		},
		{
			name:   "missing file can be read",
			action: ActionRead,
			file:   ResourceState{Identifier: "/a/gone.txt", Name: "gone.txt", Missing: true},
			want:   true,
		},
		{
			name:   "missing file cannot be written",
			action: ActionWrite,
			file:   ResourceState{Identifier: "/a/gone.txt", Name: "gone.txt", Missing: true},
		},
		{
			name:   "processed file ignores user bits and mounts",
			modify: func(e *PermissionEvaluator) { e.User = UserPermissions{}; e.Mounts = nil },
			action: ActionRead,
			file:   ResourceState{Identifier: "/elsewhere/p.jpg", Name: "p.jpg", Processed: true, Permissions: rw},
			want:   true,
		},
		{
			name:   "processing folder is within boundaries",
			action: ActionWrite,
			file:   ResourceState{Identifier: "/_processed_/1/a/p.jpg", Name: "p.jpg", Permissions: rw},
			want:   true,
		},
		{
			name:   "edit metadata in writable mount",
			modify: func(e *PermissionEvaluator) { e.User = UserPermissions{} },
			action: ActionEditMeta,
			file:   ResourceState{Identifier: "/a/x.txt", Name: "x.txt"},
			want:   true,
		},
		{
			name:   "edit metadata of processed file",
			action: ActionEditMeta,
			file:   ResourceState{Identifier: "/a/x.txt", Name: "x.txt", Processed: true},
		},
		{
			name:   "disabled evaluation ignores mounts and bits",
			modify: func(e *PermissionEvaluator) { e.Enabled = false; e.User = UserPermissions{}; e.Mounts = nil },
			action: ActionMove,
			file:   ResourceState{Identifier: "/b/x.txt", Name: "x.txt", Permissions: rw},
			want:   true,
		},
		{
			name: "disabled evaluation ignores driver bits and capabilities",
			modify: func(e *PermissionEvaluator) {
				e.Enabled = false
				e.Capabilities.Writable = false
			},
			action: ActionDelete,
			file:   ResourceState{Identifier: "/a/x.txt", Name: "x.txt", Permissions: Permissions{Read: true}},
			want:   true,
		},
		{
			name:   "disabled evaluation keeps the extension deny list",
			modify: func(e *PermissionEvaluator) { e.Enabled = false },
			action: ActionRead,
			file:   ResourceState{Identifier: "/a/shell.php", Name: "shell.php", Permissions: rw},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator()
			if tt.modify != nil {
				tt.modify(e)
			}
			if got := e.AllowsFile(tt.action, tt.file); got != tt.want {
				t.Errorf("AllowsFile(%s, %s) = %v, want %v", tt.action, tt.file.Identifier, got, tt.want)
			}
		})
	}
}

func TestAllowsFolder(t *testing.T) {
	tests := []struct {
		name   string
		modify func(e *PermissionEvaluator)
		action Action
		folder *ResourceState
		want   bool
	}{
		{name: "nil folder consults bits", action: ActionAdd, want: true},
		{
			name:   "nil folder without bit",
			modify: func(e *PermissionEvaluator) { e.User.Folder.Add = false },
			action: ActionAdd,
		},
		{
			name:   "read mount root",
			action: ActionRead,
			folder: &ResourceState{Identifier: "/a/", Permissions: rw},
			want:   true,
		},
		{
			name:   "read outside",
			action: ActionRead,
			folder: &ResourceState{Identifier: "/b/", Permissions: rw},
		},
		{
			name:   "not browsable",
			modify: func(e *PermissionEvaluator) { e.Capabilities.Browsable = false },
			action: ActionRead,
			folder: &ResourceState{Identifier: "/a/", Permissions: rw},
		},
		{
			name:   "write read-only mount",
			action: ActionWrite,
			folder: &ResourceState{Identifier: "/ro/sub/", Permissions: rw},
		},
		{
			name:   "recursive delete needs its own bit",
			modify: func(e *PermissionEvaluator) { e.User.RecursiveFolderDelete = false },
			action: ActionRecursiveDelete,
			folder: &ResourceState{Identifier: "/a/sub/", Permissions: rw},
		},
		{
			name:   "recursive delete allowed",
			action: ActionRecursiveDelete,
			folder: &ResourceState{Identifier: "/a/sub/", Permissions: rw},
			want:   true,
		},
		{
			name: "disabled evaluation allows everything",
			modify: func(e *PermissionEvaluator) {
				e.Enabled = false
				e.Mounts = nil
				e.Capabilities = Capabilities{}
			},
			action: ActionWrite,
			folder: &ResourceState{Identifier: "/b/"},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator()
			if tt.modify != nil {
				tt.modify(e)
			}
			if got := e.AllowsFolder(tt.action, tt.folder); got != tt.want {
				t.Errorf("AllowsFolder(%s) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}

func TestUserPermissionsFromMap(t *testing.T) {
	p, err := UserPermissionsFromMap(map[string]bool{
		"readFile":              true,
		"WRITEFILE":             true,
		"addFolder":             true,
		"recursivedeleteFolder": true,
		"deleteFile":            false,
	})
	if err != nil {
		t.Fatalf("UserPermissionsFromMap() error = %v", err)
	}
	want := UserPermissions{
		File:                  ActionSet{Read: true, Write: true},
		Folder:                ActionSet{Add: true},
		RecursiveFolderDelete: true,
	}
	if p != want {
		t.Errorf("UserPermissionsFromMap() = %+v, want %+v", p, want)
	}

	_, err = UserPermissionsFromMap(map[string]bool{"readFile": true, "flyFile": true, "editMetaFile": true})
	if !IsInvalidArgument(err) {
		t.Fatalf("UserPermissionsFromMap() error = %v, want invalid argument", err)
	}
	if !strings.Contains(err.Error(), "editMetaFile, flyFile") {
		t.Errorf("error %q should list the unknown keys", err)
	}
}

func TestActionClassification(t *testing.T) {
	for _, a := range []Action{ActionMove, ActionReplace} {
		if !a.IsRead() || !a.IsWrite() {
			t.Errorf("%s should need read and write", a)
		}
	}
	if ActionCopy.IsWrite() {
		t.Error("copy should not need write on the source")
	}
	if ActionAdd.IsRead() {
		t.Error("add should not need read")
	}
	if got := Action(42).String(); got != "action(42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestExtensionPolicy(t *testing.T) {
	p := DefaultExtensionPolicy()
	for name, want := range map[string]bool{
		"photo.jpg":      true,
		"index.php":      false,
		"INDEX.PHP":      false,
		"backdoor.php.1": false,
		"script.pl":      false,
		".htaccess":      false,
		"php.txt":        true,
	} {
		if got := p.Allows(name); got != want {
			t.Errorf("Allows(%q) = %v, want %v", name, got, want)
		}
	}

	var none *ExtensionPolicy
	if !none.Allows("index.php") {
		t.Error("nil policy should allow everything")
	}

	custom, err := NewExtensionPolicy(" *.exe ", "", "*.bat")
	if err != nil {
		t.Fatalf("NewExtensionPolicy() error = %v", err)
	}
	if got := custom.Patterns(); len(got) != 2 || got[0] != "*.exe" {
		t.Errorf("Patterns() = %v", got)
	}
	if custom.Allows("setup.EXE") || !custom.Allows("index.php") {
		t.Error("custom policy should replace the defaults")
	}
}
