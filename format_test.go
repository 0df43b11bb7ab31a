package grpcurl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func multiWordFieldDescriptor(t *testing.T) *desc.MessageDescriptor {
	t.Helper()
	p := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{
			"profile.proto": `
syntax = "proto3";
package testing.profile;

message Profile {
  string display_name = 1;
}
`,
		}),
	}
	fds, err := p.ParseFiles("profile.proto")
	require.NoError(t, err)
	src, err := DescriptorSourceFromFileDescriptors(fds...)
	require.NoError(t, err)
	dsc, err := src.FindSymbol("testing.profile.Profile")
	require.NoError(t, err)
	return dsc.(*desc.MessageDescriptor)
}

func TestJSONFormatter_Format(t *testing.T) {
	md := echoRequestDescriptor(t)
	msg := dynamic.NewMessage(md)
	require.NoError(t, msg.TrySetFieldByName("message", "hello"))

	f := NewJSONFormatter(false, "")
	out, err := f.Format(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"hello"}`, out)
}

func TestJSONFormatter_MultiWordFieldUsesCamelCase(t *testing.T) {
	md := multiWordFieldDescriptor(t)
	msg := dynamic.NewMessage(md)
	require.NoError(t, msg.TrySetFieldByName("display_name", "Ada Lovelace"))

	f := NewJSONFormatter(false, "")
	out, err := f.Format(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"displayName":"Ada Lovelace"}`, out)
	assert.NotContains(t, out, "display_name")
}

func TestJSONFormatter_EmitDefaultsAndIndent(t *testing.T) {
	md := echoRequestDescriptor(t)
	msg := dynamic.NewMessage(md)

	f := NewJSONFormatter(true, "  ")
	out, err := f.Format(msg)
	require.NoError(t, err)
	assert.Contains(t, out, "\"message\"")
	assert.Contains(t, out, "\n")
}

func TestTextFormatter_Format(t *testing.T) {
	md := echoRequestDescriptor(t)
	msg := dynamic.NewMessage(md)
	require.NoError(t, msg.TrySetFieldByName("message", "hello"))

	f := NewTextFormatter()
	out, err := f.Format(msg)
	require.NoError(t, err)
	assert.Contains(t, out, "message:")
	assert.Contains(t, out, "hello")
}

func TestTextFormatter_RejectsNonDynamicMessage(t *testing.T) {
	f := NewTextFormatter()
	_, err := f.Format(nonDynamicMessage{})
	assert.Error(t, err)
}

type nonDynamicMessage struct{}

func (nonDynamicMessage) Reset()         {}
func (nonDynamicMessage) String() string { return "" }
func (nonDynamicMessage) ProtoMessage()  {}

func TestDefaultEventHandler_VerbositySummary(t *testing.T) {
	md := echoRequestDescriptor(t)
	msg := dynamic.NewMessage(md)
	require.NoError(t, msg.TrySetFieldByName("message", "hi"))

	var buf bytes.Buffer
	h := NewDefaultEventHandler(&buf, NewJSONFormatter(false, ""), VerbosityVerbose)

	h.OnSendHeaders(metadata.MD{"a": {"1"}})
	h.CountRequest()
	h.OnReceiveHeaders(metadata.MD{"b": {"2"}})
	h.OnReceiveResponse(msg)
	h.OnReceiveTrailers(status.New(codes.OK, ""), metadata.MD{})

	out := buf.String()
	assert.Contains(t, out, "Request metadata to send")
	assert.Contains(t, out, "Response headers received")
	assert.Contains(t, out, `"message":"hi"`)
	assert.Contains(t, out, "Sent 1 request and received 1 response")
	assert.Equal(t, codes.OK, h.Status().Code())
}

func TestDefaultEventHandler_NormalVerbosityOmitsBanners(t *testing.T) {
	md := echoRequestDescriptor(t)
	msg := dynamic.NewMessage(md)

	var buf bytes.Buffer
	h := NewDefaultEventHandler(&buf, NewJSONFormatter(false, ""), VerbosityNormal)
	h.OnSendHeaders(metadata.MD{"a": {"1"}})
	h.OnReceiveResponse(msg)

	out := buf.String()
	assert.NotContains(t, out, "Request metadata to send")
}

func TestFormatStatus(t *testing.T) {
	stat := status.New(codes.NotFound, "widget missing")
	out := FormatStatus(stat, NewJSONFormatter(false, ""))
	assert.True(t, strings.Contains(out, "Code: NotFound"))
	assert.True(t, strings.Contains(out, "widget missing"))
	assert.False(t, strings.Contains(out, "Error Details"))
}
