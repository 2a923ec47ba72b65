package island

// Realm is the execution mode gating island operations.
type Realm int

const (
	// RealmNone is outside any realm; the controller and renderers run here.
	RealmNone Realm = iota
	// RealmModel is simulation code, entered only by the island itself.
	RealmModel
	// RealmView is rendering and input code.
	RealmView
)

// String returns the realm name.
func (r Realm) String() string {
	switch r {
	case RealmModel:
		return "model"
	case RealmView:
		return "view"
	default:
		return "none"
	}
}

// realmGuard is the per-island realm marker.
//
// epoch increments on every entry so capability tokens minted by one entry
// are rejected after release, even if the same realm is entered again.
type realmGuard struct {
	current Realm
	epoch   uint64
}

// enter switches to r and returns the release func and the new epoch.
// Nesting is refused whatever the realms involved.
func (g *realmGuard) enter(island string, r Realm) (func(), uint64, error) {
	if g.current != RealmNone {
		return nil, 0, realmError(island, "cannot enter %s realm from %s realm", r, g.current)
	}
	g.current = r
	g.epoch++
	epoch := g.epoch
	return func() {
		g.current = RealmNone
	}, epoch, nil
}

// require checks that r is active under the given epoch.
func (g *realmGuard) require(island string, r Realm, epoch uint64) error {
	if g.current != r {
		return realmError(island, "%s operation called from %s realm", r, g.current)
	}
	if g.epoch != epoch {
		return realmError(island, "%s context used after its realm was released", r)
	}
	return nil
}

// outside checks that no realm is active.
func (g *realmGuard) outside(island, op string) error {
	if g.current != RealmNone {
		return realmError(island, "%s called from %s realm", op, g.current)
	}
	return nil
}
