package grpcurl

import (
	"github.com/jhump/protoreflect/desc"
)

// CompositeSource is a DescriptorSource that combines a primary and a secondary source.
// Lookups are tried against the primary first; if it reports the symbol/extension as
// NotFound, the secondary is consulted as a fallback. Any other kind of error from the
// primary (a reflection failure, say) is returned immediately without trying the
// secondary, since falling back in that case would silently mask a real problem with the
// primary source.
//
// This is how a CLI invocation typically combines a local protoset or .proto-derived
// source with a live reflection source: prefer whichever descriptors were explicitly
// handed to it, but fill gaps from the server.
type CompositeSource struct {
	Primary   DescriptorSource
	Secondary DescriptorSource
}

// NewCompositeSource returns a DescriptorSource that prefers primary and falls back to
// secondary only on NotFound.
func NewCompositeSource(primary, secondary DescriptorSource) *CompositeSource {
	return &CompositeSource{Primary: primary, Secondary: secondary}
}

// ListServices returns the union of both sources' services, deduplicated. If only one
// source fails, whatever its error, the other source's list is returned on its own; the
// primary's error is returned only when both sources fail.
func (c *CompositeSource) ListServices() ([]string, error) {
	primarySvcs, primaryErr := c.Primary.ListServices()
	secondarySvcs, secondaryErr := c.Secondary.ListServices()

	if primaryErr != nil && secondaryErr != nil {
		return nil, primaryErr
	}
	if primaryErr != nil {
		return secondarySvcs, nil
	}
	if secondaryErr != nil {
		return primarySvcs, nil
	}

	set := make(map[string]bool, len(primarySvcs)+len(secondarySvcs))
	for _, s := range primarySvcs {
		set[s] = true
	}
	for _, s := range secondarySvcs {
		set[s] = true
	}
	merged := make([]string, 0, len(set))
	for s := range set {
		merged = append(merged, s)
	}
	return merged, nil
}

// FindSymbol looks the symbol up in the primary source first, falling back to the
// secondary only when the primary reports the symbol as not found.
func (c *CompositeSource) FindSymbol(fullyQualifiedName string) (desc.Descriptor, error) {
	d, err := c.Primary.FindSymbol(fullyQualifiedName)
	if err == nil {
		return d, nil
	}
	if !isNotFoundError(err) {
		return nil, err
	}
	d, err2 := c.Secondary.FindSymbol(fullyQualifiedName)
	if err2 != nil {
		if isNotFoundError(err2) {
			// neither source has it; report it the same way a plain source would
			return nil, err
		}
		return nil, err2
	}
	return d, nil
}

// AllExtensionsForType merges extensions known to both sources, keyed by field number so
// that if both sources know about the same extension field, the primary's definition
// wins.
func (c *CompositeSource) AllExtensionsForType(typeName string) ([]*desc.FieldDescriptor, error) {
	primaryExts, primaryErr := c.Primary.AllExtensionsForType(typeName)
	if primaryErr != nil && !isNotFoundError(primaryErr) {
		return nil, primaryErr
	}
	secondaryExts, secondaryErr := c.Secondary.AllExtensionsForType(typeName)

	if primaryErr != nil && secondaryErr != nil {
		return nil, primaryErr
	}

	byNumber := map[int32]*desc.FieldDescriptor{}
	if secondaryErr == nil {
		for _, fd := range secondaryExts {
			byNumber[fd.GetNumber()] = fd
		}
	}
	if primaryErr == nil {
		for _, fd := range primaryExts {
			byNumber[fd.GetNumber()] = fd
		}
	}
	merged := make([]*desc.FieldDescriptor, 0, len(byNumber))
	for _, fd := range byNumber {
		merged = append(merged, fd)
	}
	return merged, nil
}

// GetAllFiles returns the union of files known to both sources, in dependency order. When
// both sources define a file of the same name, the primary's copy is kept.
func (c *CompositeSource) GetAllFiles() ([]*desc.FileDescriptor, error) {
	secondaryFiles, secondaryErr := GetAllFiles(c.Secondary)
	primaryFiles, primaryErr := GetAllFiles(c.Primary)

	if primaryErr != nil && secondaryErr != nil {
		return nil, primaryErr
	}

	byName := map[string]*desc.FileDescriptor{}
	if secondaryErr == nil {
		for _, fd := range secondaryFiles {
			byName[fd.GetName()] = fd
		}
	}
	if primaryErr == nil {
		for _, fd := range primaryFiles {
			byName[fd.GetName()] = fd
		}
	}
	merged := make([]*desc.FileDescriptor, 0, len(byName))
	for _, fd := range byName {
		merged = append(merged, fd)
	}
	return topoSortFiles(merged), nil
}

var _ sourceWithFiles = (*CompositeSource)(nil)
