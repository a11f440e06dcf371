package index

// ArrayIndexes is the immutable snapshot map from array field path to side
// table name that a collection handle consults when compiling $in/$nin
// predicates. §9 requires the in-memory map to be swapped atomically rather
// than mutated in place, so every mutation produces a new map value instead
// of writing through an existing one.
type ArrayIndexes map[string]string

// With returns a new snapshot with field mapped to table, leaving the
// receiver untouched.
func (a ArrayIndexes) With(field, table string) ArrayIndexes {
	next := make(ArrayIndexes, len(a)+1)
	for k, v := range a {
		next[k] = v
	}
	next[field] = table
	return next
}

// Without returns a new snapshot with field removed, leaving the receiver
// untouched.
func (a ArrayIndexes) Without(field string) ArrayIndexes {
	next := make(ArrayIndexes, len(a))
	for k, v := range a {
		if k != field {
			next[k] = v
		}
	}
	return next
}

// Clone returns a defensive copy usable as a fresh snapshot base.
func (a ArrayIndexes) Clone() ArrayIndexes {
	next := make(ArrayIndexes, len(a))
	for k, v := range a {
		next[k] = v
	}
	return next
}
