package grpcurl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoprint"
)

var filePrinter = &protoprint.Printer{
	Compact:      false,
	OmitComments: protoprint.CommentsNonDoc,
	SortElements: false,
}

// PrintFileDescriptor renders a complete .proto source file (imports, package, syntax
// declaration, and every top-level declaration in the order they appear in the
// descriptor) for the given file. This is used for `--proto-out-dir` export, as opposed
// to GetDescriptorText's single-element snippet.
func PrintFileDescriptor(fd *desc.FileDescriptor) (string, error) {
	return filePrinter.PrintProtoToString(fd)
}

// MakeTemplate builds a JSON skeleton for the given message type: every field set to a
// representative zero/placeholder value, suitable as a starting point for a user to fill
// in as -d input. It special-cases the well-known types the same way the canonical JSON
// mapping does, rather than walking their fields (printing {"seconds":0,"nanos":0} for a
// Timestamp would be technically accurate but not what a caller filling in the template
// wants to see).
func MakeTemplate(md *desc.MessageDescriptor) interface{} {
	return makeTemplateMessage(md, map[string]bool{})
}

func makeTemplateMessage(md *desc.MessageDescriptor, seen map[string]bool) interface{} {
	if wk, ok := wellKnownTemplate(md); ok {
		return wk
	}

	name := md.GetFullyQualifiedName()
	if seen[name] {
		// recursive message type; emit an empty object rather than recursing forever
		return map[string]interface{}{}
	}
	seen[name] = true
	defer delete(seen, name)

	result := map[string]interface{}{}
	for _, fd := range md.GetFields() {
		result[fd.GetJSONName()] = templateFieldValue(fd, seen)
	}
	return result
}

func templateFieldValue(fd *desc.FieldDescriptor, seen map[string]bool) interface{} {
	if fd.IsMap() {
		return map[string]interface{}{}
	}
	v := templateScalarOrMessage(fd, seen)
	if fd.IsRepeated() {
		return []interface{}{v}
	}
	return v
}

func templateScalarOrMessage(fd *desc.FieldDescriptor, seen map[string]bool) interface{} {
	if md := fd.GetMessageType(); md != nil {
		if wk, ok := wellKnownTemplate(md); ok {
			return wk
		}
		return makeTemplateMessage(md, seen)
	}
	if ed := fd.GetEnumType(); ed != nil {
		if vals := ed.GetValues(); len(vals) > 0 {
			return vals[0].GetName()
		}
		return ""
	}
	switch fd.GetType().String() {
	case "TYPE_STRING":
		return ""
	case "TYPE_BYTES":
		return ""
	case "TYPE_BOOL":
		return false
	case "TYPE_DOUBLE", "TYPE_FLOAT":
		return 0
	default:
		return 0
	}
}

// wellKnownTemplate returns the canonical JSON-template placeholder for one of the
// well-known wrapper/Any/Timestamp/Duration/Struct family types, or (nil, false) if md
// isn't one of them.
func wellKnownTemplate(md *desc.MessageDescriptor) (interface{}, bool) {
	switch md.GetFullyQualifiedName() {
	case "google.protobuf.Any":
		return map[string]interface{}{"@type": ""}, true
	case "google.protobuf.Timestamp":
		return "", true
	case "google.protobuf.Duration":
		return "", true
	case "google.protobuf.FieldMask":
		return "", true
	case "google.protobuf.Struct":
		return map[string]interface{}{}, true
	case "google.protobuf.Value":
		return nil, true
	case "google.protobuf.ListValue":
		return []interface{}{}, true
	case "google.protobuf.DoubleValue", "google.protobuf.FloatValue",
		"google.protobuf.Int64Value", "google.protobuf.UInt64Value",
		"google.protobuf.Int32Value", "google.protobuf.UInt32Value":
		return 0, true
	case "google.protobuf.BoolValue":
		return false, true
	case "google.protobuf.StringValue", "google.protobuf.BytesValue":
		return "", true
	default:
		return nil, false
	}
}

// RenderTemplate renders a value produced by MakeTemplate the way `describe --msg-template`
// prints it: the outer message object gets one field per line, but every nested value
// (including well-known-type placeholders like Any's {"@type": ""}) is written compactly on
// that same line, so a skeleton doesn't get padded into pages of mostly-empty nesting.
func RenderTemplate(tmpl interface{}) (string, error) {
	obj, ok := tmpl.(map[string]interface{})
	if !ok {
		return compactTemplateJSON(tmpl)
	}
	if len(obj) == 0 {
		return "{}", nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{\n")
	for i, k := range keys {
		val, err := compactTemplateJSON(obj[k])
		if err != nil {
			return "", err
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "  %s: %s", kb, val)
		if i < len(keys)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String(), nil
}

// compactTemplateJSON renders v (and everything beneath it) inline, using ": " and ", " as
// separators the way the rest of grpcurl's template example does, rather than the bare
// separators encoding/json's own compact mode would use.
func compactTemplateJSON(v interface{}) (string, error) {
	switch vv := v.(type) {
	case map[string]interface{}:
		if len(vv) == 0 {
			return "{}", nil
		}
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, len(keys))
		for i, k := range keys {
			val, err := compactTemplateJSON(vv[k])
			if err != nil {
				return "", err
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return "", err
			}
			parts[i] = fmt.Sprintf("%s: %s", kb, val)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	case []interface{}:
		parts := make([]string, len(vv))
		for i, e := range vv {
			val, err := compactTemplateJSON(e)
			if err != nil {
				return "", err
			}
			parts[i] = val
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// DescribeDescriptor returns the human-facing "X is a {message,field,...}:" header used by
// the `describe` operation, followed by the descriptor's proto-source snippet.
func DescribeDescriptor(name string, dsc desc.Descriptor) (string, error) {
	var kind string
	switch dsc.(type) {
	case *desc.MessageDescriptor:
		kind = "a message"
	case *desc.FieldDescriptor:
		kind = "a field"
	case *desc.OneOfDescriptor:
		kind = "a one-of"
	case *desc.EnumDescriptor:
		kind = "an enum"
	case *desc.EnumValueDescriptor:
		kind = "an enum value"
	case *desc.ServiceDescriptor:
		kind = "a service"
	case *desc.MethodDescriptor:
		kind = "a method"
	default:
		kind = fmt.Sprintf("a %T", dsc)
	}
	txt, err := GetDescriptorText(dsc)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s is %s:\n", name, kind)
	b.WriteString(txt)
	return b.String(), nil
}
