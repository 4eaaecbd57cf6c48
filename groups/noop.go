package groups

import (
	"fmt"

	"github.com/clustrd/clustrd/nodeset"
)

// NoopResolver rejects every group reference, for callers that need a
// GroupResolver value but have no group source.
type NoopResolver struct{}

func (NoopResolver) ResolveMap(source, name string) (*nodeset.NodeSet, error) {
	return nil, fmt.Errorf("groups: no resolver configured (requested %q)", name)
}

func (NoopResolver) ResolveAll(source string) (*nodeset.NodeSet, error) {
	return nil, fmt.Errorf("groups: no resolver configured for source %q", source)
}

func (NoopResolver) ResolveList(source string) ([]string, error) {
	return nil, fmt.Errorf("groups: no resolver configured for source %q", source)
}

func (NoopResolver) ResolveReverse(source, node string) ([]string, error) {
	return nil, fmt.Errorf("groups: no resolver configured (requested %q)", node)
}
