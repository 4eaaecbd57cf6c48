package groups

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/clustrd/clustrd/nodeset"
)

// CachedResolver wraps another resolver with an lru cache of resolved
// NodeSets, so a run that references "@group" many times for the same
// name only walks the backing source once. lru.Cache is not safe for
// concurrent use on its own, so every access is taken under a mutex, the
// same guard style as driver.MemStoreDriver.
type CachedResolver struct {
	backing nodeset.GroupResolver
	locker  *sync.Mutex
	cache   *lru.Cache
}

// NewCachedResolver wraps backing with an LRU of at most maxEntries
// resolved node sets (map and all-nodes lookups combined).
func NewCachedResolver(backing nodeset.GroupResolver, maxEntries int) *CachedResolver {
	return &CachedResolver{
		backing: backing,
		locker:  new(sync.Mutex),
		cache:   lru.New(maxEntries),
	}
}

func (r *CachedResolver) ResolveMap(source, name string) (*nodeset.NodeSet, error) {
	key := "map:" + source + ":" + name
	if ns, ok := r.lookup(key); ok {
		return ns, nil
	}
	ns, err := r.backing.ResolveMap(source, name)
	if err != nil {
		return nil, err
	}
	r.store(key, ns)
	return ns, nil
}

func (r *CachedResolver) ResolveAll(source string) (*nodeset.NodeSet, error) {
	key := "all:" + source
	if ns, ok := r.lookup(key); ok {
		return ns, nil
	}
	ns, err := r.backing.ResolveAll(source)
	if err != nil {
		return nil, err
	}
	r.store(key, ns)
	return ns, nil
}

func (r *CachedResolver) ResolveList(source string) ([]string, error) {
	return r.backing.ResolveList(source)
}

func (r *CachedResolver) ResolveReverse(source, node string) ([]string, error) {
	return r.backing.ResolveReverse(source, node)
}

func (r *CachedResolver) lookup(key string) (*nodeset.NodeSet, bool) {
	defer r.locker.Unlock()
	r.locker.Lock()
	v, ok := r.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*nodeset.NodeSet), true
}

func (r *CachedResolver) store(key string, ns *nodeset.NodeSet) {
	defer r.locker.Unlock()
	r.locker.Lock()
	r.cache.Add(key, ns)
}
