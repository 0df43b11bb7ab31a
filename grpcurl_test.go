package grpcurl

import (
	"testing"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func parseTestFiles(t *testing.T) []*desc.FileDescriptor {
	t.Helper()
	p := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			"test.proto": `
syntax = "proto3";
package testing.echo;

service Echo {
  rpc UnaryEcho(EchoRequest) returns (EchoResponse);
  rpc ServerStreamEcho(EchoRequest) returns (stream EchoResponse);
  rpc ClientStreamEcho(stream EchoRequest) returns (EchoResponse);
  rpc BidiStreamEcho(stream EchoRequest) returns (stream EchoResponse);
}

message EchoRequest {
  string message = 1;
}

message EchoResponse {
  string message = 1;
}
`,
		}),
	}
	fds, err := p.ParseFiles("test.proto")
	require.NoError(t, err)
	return fds
}

func TestDescriptorSourceFromFileDescriptors_DuplicateSymbolRejected(t *testing.T) {
	fds := parseTestFiles(t)

	p2 := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			"conflict.proto": `
syntax = "proto3";
package testing.echo;

message EchoRequest {
  int32 other_field = 1;
}
`,
		}),
	}
	fds2, err := p2.ParseFiles("conflict.proto")
	require.NoError(t, err)

	_, err = DescriptorSourceFromFileDescriptors(append(fds, fds2...)...)
	require.Error(t, err)
	var iae *InvalidArgumentError
	assert.ErrorAs(t, err, &iae)
}

func TestFileSource_ListServicesAndFindSymbol(t *testing.T) {
	fds := parseTestFiles(t)
	src, err := DescriptorSourceFromFileDescriptors(fds...)
	require.NoError(t, err)

	svcs, err := ListServices(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"testing.echo.Echo"}, svcs)

	methods, err := ListMethods(src, "testing.echo.Echo")
	require.NoError(t, err)
	assert.Equal(t, []string{"BidiStreamEcho", "ClientStreamEcho", "ServerStreamEcho", "UnaryEcho"}, methods)

	dsc, err := src.FindSymbol("testing.echo.EchoRequest")
	require.NoError(t, err)
	_, ok := dsc.(*desc.MessageDescriptor)
	assert.True(t, ok)

	_, err = src.FindSymbol("testing.echo.DoesNotExist")
	assert.True(t, isNotFoundError(err))
}

func TestGetAllFiles_DependencyOrder(t *testing.T) {
	fds := parseTestFiles(t)
	src, err := DescriptorSourceFromFileDescriptors(fds...)
	require.NoError(t, err)

	files, err := GetAllFiles(src)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	seen := map[string]bool{}
	for _, fd := range files {
		for _, dep := range fd.GetDependencies() {
			assert.True(t, seen[dep.GetName()], "dependency %q of %q must appear earlier", dep.GetName(), fd.GetName())
		}
		seen[fd.GetName()] = true
	}
}

func TestMetadataFromHeaders(t *testing.T) {
	md := MetadataFromHeaders([]string{"Foo: bar", "baz:", "  Multi : a ", "not a header!!!: dropped"})
	assert.Equal(t, []string{"bar"}, md.Get("foo"))
	assert.Equal(t, []string{""}, md.Get("baz"))
	assert.Equal(t, []string{"a"}, md.Get("multi"))
	assert.Empty(t, md.Get("not a header!!!"))
}

func TestMetadataToString(t *testing.T) {
	assert.Equal(t, "(empty)", MetadataToString(metadata.MD{}))
	s := MetadataToString(metadata.MD{"a": {"1"}, "b": {"2"}})
	assert.Equal(t, "a: 1\nb: 2", s)
}

func TestParseSymbol(t *testing.T) {
	svc, mth := parseSymbol("foo.Bar/Baz")
	assert.Equal(t, "foo.Bar", svc)
	assert.Equal(t, "Baz", mth)

	svc, mth = parseSymbol("foo.Bar.Baz")
	assert.Equal(t, "foo.Bar", svc)
	assert.Equal(t, "Baz", mth)

	svc, mth = parseSymbol("nodots")
	assert.Equal(t, "", svc)
	assert.Equal(t, "", mth)
}

func TestExpandHeaders(t *testing.T) {
	t.Setenv("GRPCURL_TEST_TOKEN", "secret123")

	expanded, err := expandHeaders([]string{"authorization: Bearer ${GRPCURL_TEST_TOKEN}"})
	require.NoError(t, err)
	assert.Equal(t, []string{"authorization: Bearer secret123"}, expanded)

	_, err = expandHeaders([]string{"authorization: Bearer ${GRPCURL_TEST_TOKEN_UNSET}"})
	assert.Error(t, err)
}
