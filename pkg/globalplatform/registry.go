package globalplatform

// Registry is the host-side model of the card's content registry: an arena
// of observed objects with an AID index. Association edges (extradition)
// are stored as AID back-references, not object links, since they can be
// rewritten post-hoc and must not form ownership cycles.
type Registry struct {
	objects []CardObject
	index   map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Put records an object, replacing a previous observation of the same AID.
func (r *Registry) Put(obj CardObject) {
	key := obj.AID.String()
	if pos, ok := r.index[key]; ok {
		r.objects[pos] = obj
		return
	}
	r.index[key] = len(r.objects)
	r.objects = append(r.objects, obj)
}

// Get looks up an object by AID.
func (r *Registry) Get(aid AID) (CardObject, bool) {
	pos, ok := r.index[aid.String()]
	if !ok {
		return CardObject{}, false
	}
	return r.objects[pos], true
}

// SetLifecycle updates the recorded lifecycle state of an object.
func (r *Registry) SetLifecycle(aid AID, state Lifecycle) {
	if pos, ok := r.index[aid.String()]; ok {
		r.objects[pos].Lifecycle = state
	}
}

// Associate rewrites the association edge of an object.
func (r *Registry) Associate(aid, sd AID) {
	if pos, ok := r.index[aid.String()]; ok {
		r.objects[pos].AssociatedSD = sd
	}
}

// All returns the observed objects in first-seen order.
func (r *Registry) All() []CardObject {
	out := make([]CardObject, len(r.objects))
	copy(out, r.objects)
	return out
}

// Len returns the number of observed objects.
func (r *Registry) Len() int {
	return len(r.objects)
}
