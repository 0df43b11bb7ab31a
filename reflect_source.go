package grpcurl

import (
	"context"
	"fmt"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	refv1 "google.golang.org/grpc/reflection/grpc_reflection_v1"
	refv1alpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
)

// ReflectionProtocol selects which wire version of the server reflection protocol a
// reflection-backed DescriptorSource should use.
type ReflectionProtocol int

const (
	// ReflectionAuto tries the v1 reflection protocol first and falls back to v1alpha
	// if the server responds Unimplemented, caching the result on the client and
	// periodically retrying v1 (this is entirely grpcreflect.Client's own behavior;
	// see its NewClientAuto).
	ReflectionAuto ReflectionProtocol = iota
	// ReflectionV1 forces the v1 reflection protocol; a server that only speaks
	// v1alpha will cause every call through this source to fail.
	ReflectionV1
	// ReflectionV1Alpha forces the legacy v1alpha reflection protocol.
	ReflectionV1Alpha
)

// NewReflectionClient builds a grpcreflect.Client for the given connection using the
// requested protocol negotiation strategy. The returned client owns a reflection stream
// and must eventually have Reset called on it (DescriptorSourceFromServer's caller is
// responsible for that, typically via a defer at the call site that built cc).
func NewReflectionClient(ctx context.Context, cc grpc.ClientConnInterface, protocol ReflectionProtocol) *grpcreflect.Client {
	switch protocol {
	case ReflectionV1:
		return grpcreflect.NewClientV1(ctx, refv1.NewServerReflectionClient(cc))
	case ReflectionV1Alpha:
		return grpcreflect.NewClientV1Alpha(ctx, refv1alpha.NewServerReflectionClient(cc))
	default:
		return grpcreflect.NewClientAuto(ctx, cc)
	}
}

// DescriptorSourceFromServer creates a DescriptorSource that uses the given gRPC
// reflection client to interrogate a server for descriptor information. If the server
// does not support either version of the reflection API, the returned source's methods
// return ErrReflectionNotSupported instead of their usual error.
//
// The pool of descriptors the returned source knows about grows lazily and
// incrementally: each FindSymbol/AllExtensionsForType call fetches only what it needs
// from the server (via the reflection client's own file cache) rather than eagerly
// downloading the server's entire schema up front.
func DescriptorSourceFromServer(ctx context.Context, refClient *grpcreflect.Client) DescriptorSource {
	return &serverSource{client: refClient}
}

// serverSource dedupes concurrent first-callers asking for the same symbol, extension set,
// or service list via group: grpcreflect.Client already serializes every request onto one
// reflection stream, but without this, N goroutines that all ask for the same symbol at once
// still cost N separate (serialized, one-after-another) round trips instead of one shared
// probe with N waiters.
type serverSource struct {
	client *grpcreflect.Client
	group  singleflight.Group
}

func (ss *serverSource) ListServices() ([]string, error) {
	v, err, _ := ss.group.Do("list-services", func() (interface{}, error) {
		svcs, err := ss.client.ListServices()
		return svcs, reflectionSupport(err)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (ss *serverSource) FindSymbol(fullyQualifiedName string) (desc.Descriptor, error) {
	v, err, _ := ss.group.Do("symbol:"+fullyQualifiedName, func() (interface{}, error) {
		file, err := ss.client.FileContainingSymbol(fullyQualifiedName)
		if err != nil {
			return nil, reflectionSupport(err)
		}
		d := file.FindSymbol(fullyQualifiedName)
		if d == nil {
			return nil, notFound("Symbol", fullyQualifiedName)
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(desc.Descriptor), nil
}

func (ss *serverSource) AllExtensionsForType(typeName string) ([]*desc.FieldDescriptor, error) {
	v, err, _ := ss.group.Do(fmt.Sprintf("exts:%s", typeName), func() (interface{}, error) {
		var exts []*desc.FieldDescriptor
		nums, err := ss.client.AllExtensionNumbersForType(typeName)
		if err != nil {
			return nil, reflectionSupport(err)
		}
		for _, fieldNum := range nums {
			ext, err := ss.client.ResolveExtension(typeName, fieldNum)
			if err != nil {
				return nil, reflectionSupport(err)
			}
			exts = append(exts, ext)
		}
		return exts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*desc.FieldDescriptor), nil
}

// Reset tears down the underlying reflection stream, allowing the connection it was
// built on to be closed or reused for a fresh reflection session.
func (ss *serverSource) Reset() {
	ss.client.Reset()
}

var _ sourceWithFiles = (*serverSource)(nil)

// GetAllFiles is deliberately NOT as efficient as fileSource's: the reflection protocol
// has no "list every file" RPC, so even though serverSource implements sourceWithFiles to
// satisfy the interface, producing the full set still costs one ListServices call plus
// one FindSymbol per listed service, after which each service's file and its transitive
// imports are collected. Unlike the generic walk in the package-level GetAllFiles, it
// skips the reflection services themselves, and a listed service that reflection reports
// as not found is skipped with a warning instead of failing the whole call. A failing
// reflection request is not retried in any other form.
func (ss *serverSource) GetAllFiles() ([]*desc.FileDescriptor, error) {
	svcNames, err := ss.ListServices()
	if err != nil {
		return nil, err
	}
	allFiles := map[string]*desc.FileDescriptor{}
	for _, name := range svcNames {
		if name == "grpc.reflection.v1.ServerReflection" || name == "grpc.reflection.v1alpha.ServerReflection" {
			continue
		}
		d, err := ss.FindSymbol(name)
		if err != nil {
			if isNotFoundError(err) {
				warnf("reflection: service %q was listed but could not be resolved, skipping", name)
				continue
			}
			return nil, err
		}
		addAllFilesToSet(d.GetFile(), allFiles)
	}
	files := make([]*desc.FileDescriptor, 0, len(allFiles))
	for _, fd := range allFiles {
		files = append(files, fd)
	}
	return files, nil
}

func reflectionSupport(err error) error {
	if err == nil {
		return nil
	}
	if stat, ok := status.FromError(err); ok && stat.Code() == codes.Unimplemented {
		return ErrReflectionNotSupported
	}
	return err
}

func grpcreflectIsElementNotFound(err error) bool {
	return grpcreflect.IsElementNotFoundError(err)
}
