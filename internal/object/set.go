package object

// Set is the master object list: an arena of objects keyed by a stable
// identifier. It is the sole owner of object storage; peer lists only
// ever hold weak references into a Set.
type Set struct {
	byID   map[uint64]*Object
	byName map[string]*Object
	order  []uint64 // registration order, preserved for fan-out ordering
	nextID uint64
}

// NewSet returns an empty object arena.
func NewSet() *Set {
	return &Set{
		byID:   make(map[uint64]*Object),
		byName: make(map[string]*Object),
	}
}

// Add assigns obj a stable identity and inserts it at the end of the
// registration order.
func (s *Set) Add(obj *Object) *Object {
	s.nextID++
	obj.ID = s.nextID
	s.byID[obj.ID] = obj
	s.byName[obj.Name] = obj
	s.order = append(s.order, obj.ID)
	return obj
}

// Remove detaches obj from every other object's peer lists and deletes it
// from the arena, in that order.
func (s *Set) Remove(obj *Object) {
	if _, ok := s.byID[obj.ID]; !ok {
		return
	}
	DetachFrom(obj, s.All())
	delete(s.byID, obj.ID)
	delete(s.byName, obj.Name)
	for i, id := range s.order {
		if id == obj.ID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// All returns every live object in registration order. The returned slice
// is a fresh copy safe for the caller to range over while mutating the
// set (e.g. the loop may dispose of an object mid-iteration).
func (s *Set) All() []*Object {
	out := make([]*Object, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// ByName looks up an object by its configuration-unique name.
func (s *Set) ByName(name string) (*Object, bool) {
	o, ok := s.byName[name]
	return o, ok
}

// Len reports the number of live objects.
func (s *Set) Len() int { return len(s.byID) }
