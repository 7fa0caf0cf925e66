package resourcekit

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const maxNumberedNames = 99

var numberedSuffix = regexp.MustCompile(`_[0-9][0-9]$`)

// uniqueName returns name if taken reports it free. Otherwise it strips a
// trailing "_NN" from the body and tries body_01 to body_99, then one name
// with a random six character suffix.
func uniqueName(name string, taken func(string) (bool, error)) (string, error) {
	busy, err := taken(name)
	if err != nil {
		return "", err
	}
	if !busy {
		return name, nil
	}

	ext := path.Ext(name)
	body := numberedSuffix.ReplaceAllString(strings.TrimSuffix(name, ext), "")

	candidate := name
	for i := 1; i <= maxNumberedNames+1; i++ {
		if i <= maxNumberedNames {
			candidate = fmt.Sprintf("%s_%02d%s", body, i, ext)
		} else {
			candidate = body + "_" + randomSuffix() + ext
		}
		busy, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !busy {
			return candidate, nil
		}
	}
	return "", &PathError{Op: "uniquename", Path: candidate, Err: fmt.Errorf("%w: last possible name is already taken", ErrOperationFailed)}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// UniqueName returns a name that neither a file nor a folder in folder
// uses yet. The name itself is returned when it is free.
func (s *Storage) UniqueName(ctx context.Context, folder *Folder, name string) (string, error) {
	return uniqueName(name, func(candidate string) (bool, error) {
		exists, err := s.driver.FileExistsInFolder(ctx, candidate, folder.identifier)
		if err != nil || exists {
			return exists, err
		}
		return s.driver.FolderExistsInFolder(ctx, candidate, folder.identifier)
	})
}
