// Package groups implements nodeset.GroupResolver. MapResolver is an
// in-memory, mutex-guarded group source modeled on driver.MemStoreDriver;
// CachedResolver wraps any resolver with an lru cache of resolved node
// sets so repeated "@group" lookups during one run do not re-walk the
// backing source; NoopResolver rejects every group reference.
package groups
