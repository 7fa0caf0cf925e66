package resourcekit

import "context"

// NearestRecyclerFolder looks for a recycler folder next to identifier and
// then next to each ancestor, up to the root. It returns nil when there is
// none, when identifier already lies inside a recycler or when a folder on
// the way cannot be read.
func (s *Storage) NearestRecyclerFolder(ctx context.Context, identifier string) (*Folder, error) {
	current := s.driver.ParentFolderIdentifier(identifier)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		folder := s.folderHandle(current, "")
		if folder.role == RoleRecycler {
			return nil, nil
		}
		if !s.CheckFolderAction(ctx, ActionRead, folder) {
			return nil, nil
		}
		subs, err := s.driver.FoldersInFolder(ctx, current, false)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if s.roleOf(sub) == RoleRecycler {
				return s.folderHandle(sub, ""), nil
			}
		}
		parent := s.driver.ParentFolderIdentifier(current)
		if parent == current {
			return nil, nil
		}
		current = parent
	}
}
