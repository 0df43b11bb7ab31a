package grpcurl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/dynamic"
)

// RequestParser is the interface used to supply a sequence of request messages for an
// invocation. A single instance is used for the whole invocation: for streaming methods,
// Next is called repeatedly, once per message, until it returns io.EOF.
type RequestParser interface {
	// Next parses the next message from the underlying input into msg. It returns io.EOF
	// (and must leave msg untouched) once there is no more input.
	Next(msg proto.Message) error
}

// NewJSONRequestParser returns a RequestParser that reads a sequence of whitespace (or
// otherwise self-delimited, per encoding/json's streaming decoder) JSON values from in,
// each one unmarshaled as a single request message. allowUnknownFields controls whether a
// JSON field with no corresponding proto field is a parse error (false, the strict
// default) or silently ignored (true).
func NewJSONRequestParser(in io.Reader, allowUnknownFields bool) RequestParser {
	return &jsonRequestParser{
		dec:    json.NewDecoder(in),
		unmarshaler: jsonpb.Unmarshaler{
			AllowUnknownFields: allowUnknownFields,
		},
	}
}

type jsonRequestParser struct {
	dec         *json.Decoder
	unmarshaler jsonpb.Unmarshaler
}

func (p *jsonRequestParser) Next(msg proto.Message) error {
	var msgJSON json.RawMessage
	if err := p.dec.Decode(&msgJSON); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return &InvalidArgumentError{Reason: fmt.Sprintf("error parsing request JSON: %v", err)}
	}
	if err := p.unmarshaler.Unmarshal(bytes.NewReader(msgJSON), msg); err != nil {
		return &InvalidArgumentError{Reason: fmt.Sprintf("error parsing request JSON: %v", err)}
	}
	return nil
}

// recordSeparator delimits consecutive proto-text messages in a text request stream. It's
// the ASCII "information separator two" control character, which cannot legally appear
// inside a proto-text message itself.
const recordSeparator = 0x1E

// NewTextRequestParser returns a RequestParser that reads a sequence of proto-text
// messages from in, each one delimited by a record-separator byte (0x1E). A single
// message with no trailing separator is also accepted (the common case of exactly one
// request). Proto-text is parsed using the modern `{}`-delimited message-literal syntax
// only; the legacy `<>` alternative is not accepted.
func NewTextRequestParser(in io.Reader) RequestParser {
	scanner := bufio.NewScanner(in)
	scanner.Split(splitOnRecordSeparator)
	scanner.Buffer(make([]byte, 0, 4096), 32*1024*1024)
	return &textRequestParser{scanner: scanner}
}

type textRequestParser struct {
	scanner *bufio.Scanner
}

func (p *textRequestParser) Next(msg proto.Message) error {
	var txt []byte
	for {
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return &InvalidArgumentError{Reason: fmt.Sprintf("error reading request text: %v", err)}
			}
			return io.EOF
		}
		// A blank segment (e.g. a leading or doubled record separator) has no message to
		// parse; skip it rather than treating it as the end of the stream, so it doesn't
		// silently truncate whatever messages follow it.
		txt = bytes.TrimSpace(p.scanner.Bytes())
		if len(txt) > 0 {
			break
		}
	}
	dm, ok := msg.(*dynamic.Message)
	if !ok {
		return &InvalidArgumentError{Reason: "text format requests require a dynamic message"}
	}
	if err := dm.UnmarshalText(txt); err != nil {
		return &InvalidArgumentError{Reason: fmt.Sprintf("error parsing request text: %v", err)}
	}
	return nil
}

func splitOnRecordSeparator(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, recordSeparator); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
