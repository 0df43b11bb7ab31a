package grpcurl

import (
	"errors"
	"testing"

	"github.com/jhump/protoreflect/desc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a minimal DescriptorSource stand-in used to exercise CompositeSource's
// fallback rules without needing a real reflection server or file set.
type fakeSource struct {
	services []string
	symbols  map[string]desc.Descriptor
	exts     map[string][]*desc.FieldDescriptor
	err      error // if set, every method fails with this error
}

func (f *fakeSource) ListServices() ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.services, nil
}

func (f *fakeSource) FindSymbol(name string) (desc.Descriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	if d, ok := f.symbols[name]; ok {
		return d, nil
	}
	return nil, notFound("Symbol", name)
}

func (f *fakeSource) AllExtensionsForType(typeName string) ([]*desc.FieldDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.exts[typeName], nil
}

func TestCompositeSource_FindSymbol_FallsBackOnlyOnNotFound(t *testing.T) {
	primary := &fakeSource{symbols: map[string]desc.Descriptor{}}
	secondary := &fakeSource{symbols: map[string]desc.Descriptor{"foo.Bar": nil}}

	c := NewCompositeSource(primary, secondary)

	// Primary reports NotFound, secondary has it — note the secondary's nil descriptor is
	// still a "found" result for this fake; a real source would never store a nil value.
	secondary.symbols["foo.Bar"] = fakeMessageDescriptor(t)
	d, err := c.FindSymbol("foo.Bar")
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestCompositeSource_FindSymbol_DoesNotMaskRealErrors(t *testing.T) {
	boom := errors.New("reflection stream broken")
	primary := &fakeSource{err: boom}
	secondary := &fakeSource{symbols: map[string]desc.Descriptor{"foo.Bar": fakeMessageDescriptor(t)}}

	c := NewCompositeSource(primary, secondary)
	_, err := c.FindSymbol("foo.Bar")
	assert.ErrorIs(t, err, boom)
}

func TestCompositeSource_FindSymbol_NotFoundInBoth(t *testing.T) {
	primary := &fakeSource{symbols: map[string]desc.Descriptor{}}
	secondary := &fakeSource{symbols: map[string]desc.Descriptor{}}

	c := NewCompositeSource(primary, secondary)
	_, err := c.FindSymbol("foo.Bar")
	assert.True(t, isNotFoundError(err))
}

func TestCompositeSource_ListServices_Union(t *testing.T) {
	primary := &fakeSource{services: []string{"a.Svc", "shared.Svc"}}
	secondary := &fakeSource{services: []string{"b.Svc", "shared.Svc"}}

	c := NewCompositeSource(primary, secondary)
	svcs, err := c.ListServices()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.Svc", "b.Svc", "shared.Svc"}, svcs)
}

func TestCompositeSource_ListServices_OneSideFailing(t *testing.T) {
	primary := &fakeSource{err: errors.New("unreachable")}
	secondary := &fakeSource{services: []string{"b.Svc"}}

	c := NewCompositeSource(primary, secondary)
	svcs, err := c.ListServices()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.Svc"}, svcs)
}

func fakeMessageDescriptor(t *testing.T) desc.Descriptor {
	t.Helper()
	fds := parseTestFiles(t)
	src, err := DescriptorSourceFromFileDescriptors(fds...)
	require.NoError(t, err)
	d, err := src.FindSymbol("testing.echo.EchoRequest")
	require.NoError(t, err)
	return d
}
