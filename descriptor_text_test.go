package grpcurl

import (
	"testing"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeTemplate_OrdinaryMessage(t *testing.T) {
	md := echoRequestDescriptor(t)
	tmpl := MakeTemplate(md)
	assert.Equal(t, map[string]interface{}{"message": ""}, tmpl)
}

func TestMakeTemplate_WellKnownTimestamp(t *testing.T) {
	fd, err := desc.LoadFileDescriptor("google/protobuf/timestamp.proto")
	require.NoError(t, err)
	md := fd.FindMessage("google.protobuf.Timestamp")
	require.NotNil(t, md)

	tmpl := MakeTemplate(md)
	assert.Equal(t, "", tmpl)
}

func TestMakeTemplate_WellKnownAny(t *testing.T) {
	fd, err := desc.LoadFileDescriptor("google/protobuf/any.proto")
	require.NoError(t, err)
	md := fd.FindMessage("google.protobuf.Any")
	require.NotNil(t, md)

	tmpl := MakeTemplate(md)
	assert.Equal(t, map[string]interface{}{"@type": ""}, tmpl)
}

func TestMakeTemplate_WellKnownStructValue(t *testing.T) {
	fd, err := desc.LoadFileDescriptor("google/protobuf/struct.proto")
	require.NoError(t, err)

	structMd := fd.FindMessage("google.protobuf.Struct")
	require.NotNil(t, structMd)
	assert.Equal(t, map[string]interface{}{}, MakeTemplate(structMd))

	listMd := fd.FindMessage("google.protobuf.ListValue")
	require.NotNil(t, listMd)
	assert.Equal(t, []interface{}{}, MakeTemplate(listMd))

	valueMd := fd.FindMessage("google.protobuf.Value")
	require.NotNil(t, valueMd)
	assert.Nil(t, MakeTemplate(valueMd))
}

func TestMakeTemplate_RecursiveMessageDoesNotInfiniteLoop(t *testing.T) {
	// A self-referential message (e.g. a tree node with repeated children of its own
	// type) must terminate with an empty object at the recursive point rather than
	// recursing forever.
	done := make(chan struct{})
	go func() {
		md := recursiveMessageDescriptor(t)
		_ = MakeTemplate(md)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MakeTemplate did not terminate on a recursive message type")
	}
}

func recursiveMessageDescriptor(t *testing.T) *desc.MessageDescriptor {
	t.Helper()
	p := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			"tree.proto": `
syntax = "proto3";
package testing.tree;

message Node {
  string label = 1;
  repeated Node children = 2;
}
`,
		}),
	}
	fds, err := p.ParseFiles("tree.proto")
	require.NoError(t, err)
	src, err := DescriptorSourceFromFileDescriptors(fds...)
	require.NoError(t, err)
	dsc, err := src.FindSymbol("testing.tree.Node")
	require.NoError(t, err)
	return dsc.(*desc.MessageDescriptor)
}

func TestRenderTemplate_AnyFieldStaysCompact(t *testing.T) {
	p := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			"ping.proto": `
syntax = "proto3";
package testing.ping;

import "google/protobuf/any.proto";

message Ping {
  google.protobuf.Any a = 1;
  int32 n = 2;
}
`,
		}),
		ImportPaths: []string{"."},
	}
	fds, err := p.ParseFiles("ping.proto")
	require.NoError(t, err)
	src, err := DescriptorSourceFromFileDescriptors(fds...)
	require.NoError(t, err)
	dsc, err := src.FindSymbol("testing.ping.Ping")
	require.NoError(t, err)
	md := dsc.(*desc.MessageDescriptor)

	out, err := RenderTemplate(MakeTemplate(md))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": {\"@type\": \"\"},\n  \"n\": 0\n}", out)
}

func TestDescribeDescriptor_Message(t *testing.T) {
	md := echoRequestDescriptor(t)
	out, err := DescribeDescriptor("testing.echo.EchoRequest", md)
	require.NoError(t, err)
	assert.Contains(t, out, "testing.echo.EchoRequest is a message:")
	assert.Contains(t, out, "message EchoRequest")
}

func TestDescribeDescriptor_Service(t *testing.T) {
	fds := parseTestFiles(t)
	src, err := DescriptorSourceFromFileDescriptors(fds...)
	require.NoError(t, err)
	dsc, err := src.FindSymbol("testing.echo.Echo")
	require.NoError(t, err)

	out, err := DescribeDescriptor("testing.echo.Echo", dsc)
	require.NoError(t, err)
	assert.Contains(t, out, "testing.echo.Echo is a service:")
}
