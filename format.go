package grpcurl

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	// Registers the common google.rpc error-detail message types (ErrorInfo, BadRequest,
	// RetryInfo, and the rest) so that jsonFormatter can expand an Any-wrapped status
	// detail instead of failing to resolve its type.
	_ "google.golang.org/genproto/googleapis/rpc/errdetails"
)

// Formatter renders a single response message as text suitable for display.
//
// jsonFormatter and textFormatter both lean entirely on jsonpb and dynamic.Message's own
// marshaling rather than reimplementing protobuf's JSON/text mapping: dynamic.Message
// implements the XXX_WellKnownType hook that jsonpb and dynamic's text support key off of,
// so well-known types (Any, Timestamp, Duration, the Struct family, and the wrapper types)
// are rendered using the library's canonical mapping even though the message itself was
// never compiled into a Go struct.
type Formatter interface {
	Format(msg proto.Message) (string, error)
}

// NewJSONFormatter returns a Formatter that renders messages as JSON. emitDefaults
// includes zero-valued fields in the output (jsonpb's EmitDefaults); indent, when
// non-empty, is used to pretty-print the result (jsonpb's Indent).
func NewJSONFormatter(emitDefaults bool, indent string) Formatter {
	return &jsonFormatter{
		marshaler: jsonpb.Marshaler{
			EmitDefaults: emitDefaults,
			Indent:       indent,
		},
	}
}

type jsonFormatter struct {
	marshaler jsonpb.Marshaler
}

func (f *jsonFormatter) Format(msg proto.Message) (string, error) {
	if msg == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := f.marshaler.Marshal(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// NewTextFormatter returns a Formatter that renders messages using protobuf text format,
// always with the modern `{}`-delimited message-literal syntax (the legacy `<>` syntax is
// a purely cosmetic alternative this client never emits).
func NewTextFormatter() Formatter {
	return &textFormatter{}
}

type textFormatter struct{}

func (f *textFormatter) Format(msg proto.Message) (string, error) {
	if msg == nil {
		return "", nil
	}
	dm, ok := msg.(*dynamic.Message)
	if !ok {
		return "", fmt.Errorf("text format requires a dynamic message, got %T", msg)
	}
	b, err := dm.MarshalText()
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(b), "\n"), nil
}

// Verbosity controls how much detail DefaultEventHandler prints around each response.
type Verbosity int

const (
	// VerbosityNormal prints only response bodies, separated by a blank line. The handler
	// does not print the status of a failed call; InvokeRPC returns it as a
	// GrpcStatusError for the caller to render (for example with FormatStatus).
	VerbosityNormal Verbosity = iota
	// VerbosityVerbose additionally prints the resolved method, request/response
	// headers and trailers, and a final request/response count summary.
	VerbosityVerbose
	// VerbosityVeryVerbose additionally prints the wire size, in bytes, of each
	// response message.
	VerbosityVeryVerbose
)

// DefaultEventHandler is the default InvocationEventHandler: it renders each response
// through a Formatter and writes the result (along with whatever diagnostic banners the
// configured Verbosity calls for) to Out.
type DefaultEventHandler struct {
	Out       io.Writer
	Formatter Formatter
	Verbosity Verbosity

	reqCount  int
	respCount int
	status    *status.Status
}

// NewDefaultEventHandler constructs a DefaultEventHandler writing formatted responses (and
// any requested diagnostics) to out.
func NewDefaultEventHandler(out io.Writer, formatter Formatter, verbosity Verbosity) *DefaultEventHandler {
	return &DefaultEventHandler{Out: out, Formatter: formatter, Verbosity: verbosity}
}

func (h *DefaultEventHandler) OnResolveMethod(md *desc.MethodDescriptor) {
	if h.Verbosity >= VerbosityVerbose {
		txt, err := GetDescriptorText(md)
		if err != nil {
			txt = md.GetFullyQualifiedName()
		}
		fmt.Fprintf(h.Out, "\nResolved method descriptor:\n%s\n", txt)
	}
}

func (h *DefaultEventHandler) OnSendHeaders(md metadata.MD) {
	if h.Verbosity >= VerbosityVerbose {
		fmt.Fprintf(h.Out, "\nRequest metadata to send:\n%s\n", MetadataToString(md))
	}
}

func (h *DefaultEventHandler) OnReceiveHeaders(md metadata.MD) {
	if h.Verbosity >= VerbosityVerbose {
		fmt.Fprintf(h.Out, "\nResponse headers received:\n%s\n", MetadataToString(md))
	}
}

func (h *DefaultEventHandler) OnReceiveResponse(resp proto.Message) {
	h.respCount++
	respTxt, err := h.Formatter.Format(resp)
	if h.Verbosity >= VerbosityVerbose {
		fmt.Fprint(h.Out, "\nResponse contents:\n")
	} else if h.respCount > 1 {
		fmt.Fprintln(h.Out)
	}
	if err != nil {
		fmt.Fprintf(h.Out, "Error formatting response: %v\n", err)
		return
	}
	if h.Verbosity >= VerbosityVeryVerbose {
		fmt.Fprintf(h.Out, "(%d bytes)\n", proto.Size(resp))
	}
	fmt.Fprintln(h.Out, respTxt)
}

func (h *DefaultEventHandler) OnReceiveTrailers(stat *status.Status, md metadata.MD) {
	h.status = stat
	if h.Verbosity >= VerbosityVerbose {
		fmt.Fprintf(h.Out, "\nResponse trailers received:\n%s\n", MetadataToString(md))
		fmt.Fprintf(h.Out, "Sent %d request%s and received %d response%s\n",
			h.reqCount, plural(h.reqCount), h.respCount, plural(h.respCount))
	}
}

// Status returns the final RPC status observed, or nil if no RPC has completed yet.
func (h *DefaultEventHandler) Status() *status.Status {
	return h.status
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// CountRequest records that one more request message was (or is about to be) sent, so the
// verbose summary line printed from OnReceiveTrailers reports an accurate count. Callers
// that supply requests to InvokeRPC via a RequestSupplier should call this each time their
// supplier successfully populates a message.
func (h *DefaultEventHandler) CountRequest() {
	h.reqCount++
}

// FormatStatus renders a non-OK status the way grpcurl's CLI reports invocation failures:
// a "Code"/"Message" block, followed by one block per google.rpc status detail, each
// labeled with its full type URL and rendered through formatter (the same Formatter used
// for the RPC's regular response messages) rather than just named.
func FormatStatus(stat *status.Status, formatter Formatter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ERROR:\n  Code: %s\n  Message: %s\n", stat.Code().String(), stat.Message())

	details := stat.Proto().GetDetails()
	if len(details) == 0 {
		return b.String()
	}

	fmt.Fprint(&b, "Error Details:\n")
	for i, d := range details {
		fmt.Fprintf(&b, "%d)\n\tName: %s\n", i+1, d.GetTypeUrl())
		txt, err := formatter.Format(d)
		if err != nil {
			fmt.Fprintf(&b, "\t(error formatting detail: %v)\n", err)
			continue
		}
		fmt.Fprintf(&b, "\t%s\n", txt)
	}
	return b.String()
}
