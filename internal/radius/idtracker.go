package radius

// IdEntry is one slot in an IdTracker (§3). It is only valid while its
// InUse flag is set; a trunk entry's index lives in the opaque Ctx field
// per the arena-indexing design in §9 (no raw pointer into the trunk's
// ownership graph).
type IdEntry struct {
	ID            byte
	Authenticator [AuthenticatorLength]byte
	Ctx           int32 // opaque index into the trunk's entry table, or -1
	InUse         bool
}

// IdTracker is a per-connection allocator for the 8-bit RADIUS ID space
// (§3, §4.1). It guarantees at most one live request per ID on its owning
// connection.
type IdTracker struct {
	entries    [256]IdEntry
	count      int
	lastIssued int // last allocated id, used to spread the next search (replication mode wants spread)
}

// NewIdTracker returns an empty tracker with count == 0.
func NewIdTracker() *IdTracker {
	t := &IdTracker{lastIssued: 255}
	for i := range t.entries {
		t.entries[i].ID = byte(i)
		t.entries[i].Ctx = -1
	}
	return t
}

// Count returns the number of IDs currently reserved. Invariant: 0 <=
// Count() <= 256.
func (t *IdTracker) Count() int { return t.count }

// Reserve selects the next free ID after the last issued one (modulo
// 256, skipping in-use slots) and marks it in-use with ctx attached.
// Returns ErrIDTrackerFull if all 256 slots are occupied.
func (t *IdTracker) Reserve(ctx int32) (*IdEntry, error) {
	if t.count >= 256 {
		return nil, newErr(ErrKindTracking, "all ids in use", ErrIDTrackerFull)
	}
	start := (t.lastIssued + 1) % 256
	for i := 0; i < 256; i++ {
		id := (start + i) % 256
		e := &t.entries[id]
		if !e.InUse {
			e.InUse = true
			e.Ctx = ctx
			e.Authenticator = [AuthenticatorLength]byte{}
			t.lastIssued = id
			t.count++
			return e, nil
		}
	}
	// Unreachable given the count check above, but keeps Reserve total.
	return nil, newErr(ErrKindTracking, "all ids in use", ErrIDTrackerFull)
}

// Update stores the authenticator vector recorded at encode time, used
// later to verify a matching reply.
func (t *IdTracker) Update(e *IdEntry, authenticator [AuthenticatorLength]byte) {
	e.Authenticator = authenticator
}

// Find returns the entry for id if it is currently reserved, else
// ok == false.
func (t *IdTracker) Find(id byte) (*IdEntry, bool) {
	e := &t.entries[id]
	if !e.InUse {
		return nil, false
	}
	return e, true
}

// Release marks id's slot free and clears its context. Releasing an
// already-free entry is a programmer error (§4.1 invariant) and is
// reported rather than silently accepted, so a misbehaving caller can
// be caught by its own tests.
func (t *IdTracker) Release(e *IdEntry) error {
	if !e.InUse {
		return ErrReleaseOfFreeEntry
	}
	e.InUse = false
	e.Ctx = -1
	e.Authenticator = [AuthenticatorLength]byte{}
	t.count--
	return nil
}
