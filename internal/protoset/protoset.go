// Package protoset writes descriptor information out to the filesystem: either as a
// single binary FileDescriptorSet (the --protoset-out flag) or as a tree of .proto source
// files, one per descriptor file, rooted at a directory (the --proto-out-dir flag). Both
// writers go through an afero.Fs so they can be pointed at an in-memory filesystem in
// tests without touching disk.
package protoset

import (
	"path/filepath"

	"github.com/golang/protobuf/proto"
	descpb "github.com/golang/protobuf/protoc-gen-go/descriptor"
	"github.com/jhump/protoreflect/desc"
	"github.com/spf13/afero"

	"github.com/dynrpc/grpcurl"
)

// WriteProtoset serializes the given files as a FileDescriptorSet binary and writes it to
// path on fs.
func WriteProtoset(fs afero.Fs, path string, files []*desc.FileDescriptor) error {
	fds := &descpb.FileDescriptorSet{
		File: make([]*descpb.FileDescriptorProto, len(files)),
	}
	for i, fd := range files {
		fds.File[i] = fd.AsFileDescriptorProto()
	}
	b, err := proto.Marshal(fds)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return afero.WriteFile(fs, path, b, 0o644)
}

// WriteProtoSourceTree renders each of the given files as .proto source (via
// grpcurl.PrintFileDescriptor) and writes it to dir on fs, at the path given by the
// file descriptor's own name (e.g. "google/protobuf/timestamp.proto" becomes
// dir/google/protobuf/timestamp.proto), creating intermediate directories as needed.
func WriteProtoSourceTree(fs afero.Fs, dir string, files []*desc.FileDescriptor) error {
	for _, fd := range files {
		txt, err := grpcurl.PrintFileDescriptor(fd)
		if err != nil {
			return err
		}
		outPath := filepath.Join(dir, filepath.FromSlash(fd.GetName()))
		if parent := filepath.Dir(outPath); parent != "." {
			if err := fs.MkdirAll(parent, 0o755); err != nil {
				return err
			}
		}
		if err := afero.WriteFile(fs, outPath, []byte(txt), 0o644); err != nil {
			return err
		}
	}
	return nil
}
