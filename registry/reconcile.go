package registry

// Keyed is implemented by entities reconciled by URL.
type Keyed interface {
	Key() string
}

// DiffResult partitions a reconciliation into the row operations a store
// has to apply.
type DiffResult[T Keyed] struct {
	Insert []T // in target but not persisted
	Update []T // in both, target version wins after merge
	Delete []T // persisted but no longer in target
}

// Diff compares a persisted entity list against the target map of one
// refresh pass, matched by key. For entries present on both sides the merge
// callback is invoked with the old row so protected fields (row IDs, user
// overrides) can be carried forward into the target version before it is
// written.
func Diff[T Keyed](persisted []T, target map[string]T, merge func(old, updated T)) DiffResult[T] {
	var result DiffResult[T]

	seen := make(map[string]bool, len(persisted))
	for _, old := range persisted {
		key := old.Key()
		seen[key] = true
		updated, ok := target[key]
		if !ok {
			result.Delete = append(result.Delete, old)
			continue
		}
		if merge != nil {
			merge(old, updated)
		}
		result.Update = append(result.Update, updated)
	}

	for key, entity := range target {
		if !seen[key] {
			result.Insert = append(result.Insert, entity)
		}
	}

	return result
}
