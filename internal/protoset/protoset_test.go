package protoset

import (
	"testing"

	"github.com/golang/protobuf/proto"
	descpb "github.com/golang/protobuf/protoc-gen-go/descriptor"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTestFile(t *testing.T) (*protoparse.Parser, string) {
	t.Helper()
	p := &protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			"widgets/widget.proto": `
syntax = "proto3";
package widgets;

message Widget {
  string name = 1;
}
`,
		}),
	}
	return p, "widgets/widget.proto"
}

func TestWriteProtoset(t *testing.T) {
	p, filename := parseTestFile(t)
	fds, err := p.ParseFiles(filename)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, WriteProtoset(fs, "out/bundle.protoset", fds))

	b, err := afero.ReadFile(fs, "out/bundle.protoset")
	require.NoError(t, err)

	var set descpb.FileDescriptorSet
	require.NoError(t, proto.Unmarshal(b, &set))
	require.Len(t, set.File, 1)
	assert.Equal(t, "widgets/widget.proto", set.File[0].GetName())
}

func TestWriteProtoSourceTree(t *testing.T) {
	p, filename := parseTestFile(t)
	fds, err := p.ParseFiles(filename)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, WriteProtoSourceTree(fs, "srcout", fds))

	exists, err := afero.Exists(fs, "srcout/widgets/widget.proto")
	require.NoError(t, err)
	assert.True(t, exists)

	contents, err := afero.ReadFile(fs, "srcout/widgets/widget.proto")
	require.NoError(t, err)
	assert.Contains(t, string(contents), "message Widget")
}
