package address

// Entry is the "materialized entry" of SPEC_FULL.md §4.A: a CIDTable leaf
// slot's word decoded into a working value, plus the slot's own heap
// address (Pointer) and the word last observed there (Initial). It is a
// plain stack value — no pointer into the CIDTable leaf escapes it, per
// the re-architecture note in §9 ("avoid references into the slot").
//
// Callers mutate Current via the With* methods on Word and write it back
// with a CAS comparing against Initial (CIDTable.EntryAtomicUpdate); a
// failed CAS means the caller must Reread and retry.
type Entry struct {
	// Pointer is the heap byte address of the leaf slot this entry was
	// read from (not the chunk's own payload address). internal/cidtable
	// leaves it zero: its Handle refers to the slot directly instead.
	Pointer uint64

	// Initial is the word observed at Pointer at the most recent
	// Translate/Reread.
	Initial Word

	// Current is the (possibly mutated) working copy; Value() recomposes
	// the word to write back.
	Current Word
}

// Value returns the word to CAS back into the slot.
func (e *Entry) Value() Word { return e.Current }

// Reset discards any pending mutation, reverting Current to Initial. Used
// after a failed CAS before re-deriving the mutation from the freshly
// reread word.
func (e *Entry) Reset() { e.Current = e.Initial }

// Address is a convenience accessor for Current's address field.
func (e *Entry) Address() uint64 { return e.Current.Address() }

// IsValid reports whether Current addresses a live chunk.
func (e *Entry) IsValid() bool { return e.Current.IsValid() }
