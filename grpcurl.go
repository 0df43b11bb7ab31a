// Package grpcurl provides the core functionality of a grpcurl-style client: dynamically
// connecting to a server, using descriptors loaded from proto sources, reflection, or
// pre-compiled descriptor sets to inspect that server, and invoking arbitrary RPCs with
// runtime-typed protobuf messages. It does not parse command-line flags, configure TLS
// transports for a specific invocation, or decide process exit codes -- those are the job
// of the thin cmd/grpcurl binary built on top of this package.
package grpcurl

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang/protobuf/proto"
	descpb "github.com/golang/protobuf/protoc-gen-go/descriptor"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/desc/protoprint"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrReflectionNotSupported is returned by DescriptorSource operations that rely on
// interacting with the reflection service when the source does not actually expose the
// reflection service (neither the v1 nor v1alpha protocol). When this occurs, an alternate
// source (such as a file descriptor set) must be used instead.
var ErrReflectionNotSupported = errors.New("server does not support the reflection API")

// DescriptorSource is a source of protobuf descriptor information. It can be backed by a
// FileDescriptorSet proto (like a file generated by protoc), parsed .proto source, a
// remote server that supports the reflection API, or a composite of any of these.
type DescriptorSource interface {
	// ListServices returns the fully-qualified names of every service the source knows
	// about, in no particular order (use the package-level ListServices for a sorted
	// list).
	ListServices() ([]string, error)
	// FindSymbol returns a descriptor for the given fully-qualified symbol name.
	FindSymbol(fullyQualifiedName string) (desc.Descriptor, error)
	// AllExtensionsForType returns all known extension fields that extend the given
	// message type name.
	AllExtensionsForType(typeName string) ([]*desc.FieldDescriptor, error)
}

// sourceWithFiles is an optional capability a DescriptorSource may implement when it can
// cheaply enumerate every file descriptor it knows about, sparing callers from having to
// walk every service and symbol to discover the full file set.
type sourceWithFiles interface {
	GetAllFiles() ([]*desc.FileDescriptor, error)
}

// DescriptorSourceFromProtoSets creates a DescriptorSource backed by the named files,
// whose contents are encoded FileDescriptorSet protos.
func DescriptorSourceFromProtoSets(fileNames ...string) (DescriptorSource, error) {
	files := &descpb.FileDescriptorSet{}
	for _, fileName := range fileNames {
		b, err := os.ReadFile(fileName)
		if err != nil {
			return nil, fmt.Errorf("could not load protoset file %q: %v", fileName, err)
		}
		var fs descpb.FileDescriptorSet
		if err := proto.Unmarshal(b, &fs); err != nil {
			return nil, fmt.Errorf("could not parse contents of protoset file %q: %v", fileName, err)
		}
		files.File = append(files.File, fs.File...)
	}
	return DescriptorSourceFromFileDescriptorSet(files)
}

// DescriptorSourceFromProtoFiles creates a DescriptorSource backed by the named files,
// whose contents are Protocol Buffer source files. The given importPaths are used to
// locate any imported files.
func DescriptorSourceFromProtoFiles(importPaths []string, fileNames ...string) (DescriptorSource, error) {
	p := protoparse.Parser{
		ImportPaths:      importPaths,
		InferImportPaths: len(importPaths) == 0,
	}
	fds, err := p.ParseFiles(fileNames...)
	if err != nil {
		return nil, fmt.Errorf("could not parse given files: %v", err)
	}
	return DescriptorSourceFromFileDescriptors(fds...)
}

// DescriptorSourceFromFileDescriptorSet creates a DescriptorSource backed by the given
// FileDescriptorSet.
func DescriptorSourceFromFileDescriptorSet(files *descpb.FileDescriptorSet) (DescriptorSource, error) {
	unresolved := map[string]*descpb.FileDescriptorProto{}
	for _, fd := range files.File {
		unresolved[fd.GetName()] = fd
	}
	resolved := map[string]*desc.FileDescriptor{}
	for _, fd := range files.File {
		if _, err := resolveFileDescriptor(unresolved, resolved, fd.GetName()); err != nil {
			return nil, err
		}
	}
	return newFileSource(resolved)
}

func resolveFileDescriptor(unresolved map[string]*descpb.FileDescriptorProto, resolved map[string]*desc.FileDescriptor, filename string) (*desc.FileDescriptor, error) {
	if r, ok := resolved[filename]; ok {
		return r, nil
	}
	fd, ok := unresolved[filename]
	if !ok {
		return nil, fmt.Errorf("no descriptor found for %q", filename)
	}
	deps := make([]*desc.FileDescriptor, 0, len(fd.GetDependency()))
	for _, dep := range fd.GetDependency() {
		depFd, err := resolveFileDescriptor(unresolved, resolved, dep)
		if err != nil {
			return nil, err
		}
		deps = append(deps, depFd)
	}
	result, err := desc.CreateFileDescriptor(fd, deps...)
	if err != nil {
		return nil, err
	}
	resolved[filename] = result
	return result, nil
}

// DescriptorSourceFromFileDescriptors creates a DescriptorSource backed by the given file
// descriptors.
func DescriptorSourceFromFileDescriptors(files ...*desc.FileDescriptor) (DescriptorSource, error) {
	fds := map[string]*desc.FileDescriptor{}
	for _, fd := range files {
		if err := addFile(fd, fds); err != nil {
			return nil, err
		}
	}
	return newFileSource(fds)
}

func addFile(fd *desc.FileDescriptor, fds map[string]*desc.FileDescriptor) error {
	name := fd.GetName()
	if existing, ok := fds[name]; ok {
		if existing != fd {
			return fmt.Errorf("given files include multiple copies of %q", name)
		}
		return nil
	}
	fds[name] = fd
	for _, dep := range fd.GetDependencies() {
		if err := addFile(dep, fds); err != nil {
			return err
		}
	}
	return nil
}

// newFileSource builds a fileSource and rejects conflicting definitions of the same
// fully-qualified symbol across the merged files: a proto-file source is expected to
// describe one consistent schema, so two files disagreeing about what a symbol is
// indicates a usage error rather than something to silently paper over.
func newFileSource(fds map[string]*desc.FileDescriptor) (DescriptorSource, error) {
	seen := map[string]string{} // symbol -> file it came from
	for _, fd := range fds {
		for _, sym := range allSymbolNames(fd) {
			if prevFile, ok := seen[sym]; ok && prevFile != fd.GetName() {
				return nil, &InvalidArgumentError{Reason: fmt.Sprintf(
					"symbol %q is defined in both %q and %q", sym, prevFile, fd.GetName())}
			}
			seen[sym] = fd.GetName()
		}
	}
	return &fileSource{files: fds}, nil
}

func allSymbolNames(fd *desc.FileDescriptor) []string {
	var names []string
	for _, svc := range fd.GetServices() {
		names = append(names, svc.GetFullyQualifiedName())
	}
	for _, msg := range fd.GetMessageTypes() {
		names = append(names, allMessageSymbolNames(msg)...)
	}
	for _, en := range fd.GetEnumTypes() {
		names = append(names, en.GetFullyQualifiedName())
	}
	return names
}

func allMessageSymbolNames(md *desc.MessageDescriptor) []string {
	names := []string{md.GetFullyQualifiedName()}
	for _, nested := range md.GetNestedMessageTypes() {
		names = append(names, allMessageSymbolNames(nested)...)
	}
	for _, en := range md.GetNestedEnumTypes() {
		names = append(names, en.GetFullyQualifiedName())
	}
	return names
}

// fileSource is a DescriptorSource whose descriptors were all loaded eagerly at
// construction time (from .proto source or a pre-compiled FileDescriptorSet). It never
// performs I/O after construction and its extension registry is built lazily, once, on
// first use.
type fileSource struct {
	files  map[string]*desc.FileDescriptor
	er     *dynamic.ExtensionRegistry
	erInit sync.Once
}

func (fs *fileSource) ListServices() ([]string, error) {
	set := map[string]bool{}
	for _, fd := range fs.files {
		for _, svc := range fd.GetServices() {
			set[svc.GetFullyQualifiedName()] = true
		}
	}
	sl := make([]string, 0, len(set))
	for svc := range set {
		sl = append(sl, svc)
	}
	return sl, nil
}

// GetAllFiles returns every underlying file descriptor, in no particular order (callers
// that need dependency order should go through the package-level GetAllFiles function).
func (fs *fileSource) GetAllFiles() ([]*desc.FileDescriptor, error) {
	files := make([]*desc.FileDescriptor, 0, len(fs.files))
	for _, fd := range fs.files {
		files = append(files, fd)
	}
	return files, nil
}

func (fs *fileSource) FindSymbol(fullyQualifiedName string) (desc.Descriptor, error) {
	for _, fd := range fs.files {
		if dsc := fd.FindSymbol(fullyQualifiedName); dsc != nil {
			return dsc, nil
		}
	}
	return nil, notFound("Symbol", fullyQualifiedName)
}

func (fs *fileSource) AllExtensionsForType(typeName string) ([]*desc.FieldDescriptor, error) {
	fs.erInit.Do(func() {
		fs.er = &dynamic.ExtensionRegistry{}
		for _, fd := range fs.files {
			fs.er.AddExtensionsFromFile(fd)
		}
	})
	return fs.er.AllExtensionsForType(typeName), nil
}

var _ sourceWithFiles = (*fileSource)(nil)

// ListServices uses the given descriptor source to return a sorted list of fully-qualified
// service names.
func ListServices(source DescriptorSource) ([]string, error) {
	svcs, err := source.ListServices()
	if err != nil {
		return nil, err
	}
	sort.Strings(svcs)
	return svcs, nil
}

// GetAllFiles uses the given descriptor source to return every file descriptor it knows
// about, ordered so that a file always appears after everything it imports.
func GetAllFiles(source DescriptorSource) ([]*desc.FileDescriptor, error) {
	var files []*desc.FileDescriptor
	if srcFiles, ok := source.(sourceWithFiles); ok {
		var err error
		files, err = srcFiles.GetAllFiles()
		if err != nil {
			return nil, err
		}
	} else {
		// Source doesn't implement GetAllFiles, so fall back to ListServices and grab
		// files by walking each service's descriptor and its dependencies.
		allFiles := map[string]*desc.FileDescriptor{}
		svcNames, err := source.ListServices()
		if err != nil {
			return nil, err
		}
		for _, name := range svcNames {
			d, err := source.FindSymbol(name)
			if err != nil {
				return nil, err
			}
			addAllFilesToSet(d.GetFile(), allFiles)
		}
		files = make([]*desc.FileDescriptor, 0, len(allFiles))
		for _, fd := range allFiles {
			files = append(files, fd)
		}
	}

	return topoSortFiles(files), nil
}

func addAllFilesToSet(fd *desc.FileDescriptor, all map[string]*desc.FileDescriptor) {
	if _, ok := all[fd.GetName()]; ok {
		return
	}
	all[fd.GetName()] = fd
	for _, dep := range fd.GetDependencies() {
		addAllFilesToSet(dep, all)
	}
}

// topoSortFiles orders files so each one appears after all of its dependencies, breaking
// ties by name for determinism.
func topoSortFiles(files []*desc.FileDescriptor) []*desc.FileDescriptor {
	byName := make(map[string]*desc.FileDescriptor, len(files))
	for _, fd := range files {
		byName[fd.GetName()] = fd
	}
	names := make([]string, 0, len(files))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	visited := make(map[string]bool, len(files))
	result := make([]*desc.FileDescriptor, 0, len(files))
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		fd, ok := byName[name]
		if !ok {
			return
		}
		deps := make([]string, 0, len(fd.GetDependencies()))
		for _, dep := range fd.GetDependencies() {
			deps = append(deps, dep.GetName())
		}
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		result = append(result, fd)
	}
	for _, name := range names {
		visit(name)
	}
	return result
}

// ListMethods uses the given descriptor source to return a sorted list of method names
// for the specified fully-qualified service name.
func ListMethods(source DescriptorSource, serviceName string) ([]string, error) {
	dsc, err := source.FindSymbol(serviceName)
	if err != nil {
		return nil, err
	}
	sd, ok := dsc.(*desc.ServiceDescriptor)
	if !ok {
		return nil, notFound("Service", serviceName)
	}
	methods := make([]string, 0, len(sd.GetMethods()))
	for _, method := range sd.GetMethods() {
		methods = append(methods, method.GetName())
	}
	sort.Strings(methods)
	return methods, nil
}

// notFoundError is the concrete type behind the NotFound branch of the client's error
// taxonomy: a requested symbol, file, or extension that is simply absent from a source.
type notFoundError string

func notFound(kind, name string) error {
	return notFoundError(fmt.Sprintf("%s not found: %s", kind, name))
}

func (e notFoundError) Error() string {
	return string(e)
}

func isNotFoundError(err error) bool {
	if grpcreflectIsElementNotFound(err) {
		return true
	}
	var nfe notFoundError
	return errors.As(err, &nfe)
}

// InvalidArgumentError is the concrete type behind the InvalidArgument branch of the error
// taxonomy: malformed request data, an unknown field under strict parsing, conflicting
// symbol definitions across merged descriptor files, and the like.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return e.Reason
}

// ExtraMessagesError is returned when a unary or server-streaming method is given more
// than one request message by the Request Parser.
type ExtraMessagesError struct {
	Method string
}

func (e *ExtraMessagesError) Error() string {
	return fmt.Sprintf("method %q is a unary or server-streaming RPC, but request data contained more than 1 message", e.Method)
}

// GrpcStatusError wraps the final non-OK status of an invocation. It implements
// GRPCStatus() so callers can recover the status with status.FromError.
type GrpcStatusError struct {
	Status *status.Status
}

func (e *GrpcStatusError) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.Status.Code(), e.Status.Message())
}

func (e *GrpcStatusError) GRPCStatus() *status.Status {
	return e.Status
}

// InvocationEventHandler is a bag of callbacks for handling events that occur in the course
// of invoking an RPC. The callbacks are called in the order listed below regardless of
// which of the four streaming shapes the method has; each is called at most once per
// invocation, except OnReceiveResponse, which is called once for each response message.
type InvocationEventHandler interface {
	// OnResolveMethod is called with a descriptor of the method being invoked.
	OnResolveMethod(*desc.MethodDescriptor)
	// OnSendHeaders is called with the request metadata that is being sent.
	OnSendHeaders(metadata.MD)
	// OnReceiveHeaders is called when response headers have been received.
	OnReceiveHeaders(metadata.MD)
	// OnReceiveResponse is called once for each response message received.
	OnReceiveResponse(proto.Message)
	// OnReceiveTrailers is called when response trailers and the final status have been
	// received.
	OnReceiveTrailers(*status.Status, metadata.MD)
}

// RequestSupplier is a function that is called to populate messages for a gRPC operation.
// The function should populate the given message or return a non-nil error. If the
// supplier has no more messages, it should return io.EOF, in which case it must not modify
// the given message argument.
type RequestSupplier func(proto.Message) error

// Options carries the Invocation Engine's share of the invocation configuration. Knobs
// that only affect formatting (EmitDefaults, verbosity, and the like) live on the
// Formatter and event handler instead; see format.go.
type Options struct {
	// MaxMsgSize caps the size, in bytes, of any single message sent or received. Zero
	// means the gRPC default.
	MaxMsgSize int
	// ExpandHeaders enables ${VAR} expansion of header values against the process
	// environment before they are sent. A referenced variable that is unset is a fatal
	// error, since a header silently going missing is more dangerous than failing loudly.
	ExpandHeaders bool
}

// warnf reports non-fatal warnings encountered while processing headers or falling back
// between descriptor sources. It defaults to discarding the message; cmd/grpcurl installs
// a logrus-backed implementation via SetWarningLogger.
var warnf = func(format string, args ...interface{}) {}

// SetWarningLogger installs the function used to report those non-fatal warnings. Passing
// nil restores the no-op default.
func SetWarningLogger(f func(format string, args ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	warnf = f
}

// InvokeRPC uses the given gRPC channel to invoke the given method. The given descriptor
// source is used to determine the type of the method and of its request and response
// messages. headers and rpcHeaders are merged, in that order, and sent as the request
// metadata of the RPC; neither list is attached to any reflection queries needed to
// resolve the method, since those happen against source rather than ch. Methods on the
// given event handler are called as the invocation proceeds.
//
// The given requestData function supplies the actual data to send. It should return
// io.EOF when there is no more request data. If the method being invoked is unary or
// server-streaming and there is no request data (the first call returns io.EOF), an empty
// request message is sent.
//
// If requestData and handler coordinate or share state, that state must be safe for
// concurrent use: for bidirectional-streaming RPCs, requestData runs on a different
// goroutine than the one driving the event callbacks, so that uploading the request stream
// and downloading the response stream can proceed concurrently instead of one fully
// buffering before the other starts.
func InvokeRPC(ctx context.Context, source DescriptorSource, ch grpcdynamic.Channel, methodName string,
	headers, rpcHeaders []string, opts Options, handler InvocationEventHandler, requestData RequestSupplier) error {

	allHeaders := append(append([]string{}, headers...), rpcHeaders...)
	if opts.ExpandHeaders {
		expanded, err := expandHeaders(allHeaders)
		if err != nil {
			return err
		}
		allHeaders = expanded
	}
	md := MetadataFromHeaders(allHeaders)

	svc, mth := parseSymbol(methodName)
	if svc == "" || mth == "" {
		return fmt.Errorf("given method name %q is not in expected format: 'service/method' or 'service.method'", methodName)
	}
	dsc, err := source.FindSymbol(svc)
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("target server does not expose service %q", svc)
		}
		return fmt.Errorf("failed to query for service descriptor %q: %v", svc, err)
	}
	sd, ok := dsc.(*desc.ServiceDescriptor)
	if !ok {
		return fmt.Errorf("target server does not expose service %q", svc)
	}
	mtd := sd.FindMethodByName(mth)
	if mtd == nil {
		return fmt.Errorf("service %q does not include a method named %q", svc, mth)
	}

	handler.OnResolveMethod(mtd)

	// Download any applicable extensions so that server-defined custom options and
	// extension fields on the request/response types can be fully parsed and rendered.
	var ext dynamic.ExtensionRegistry
	alreadyFetched := map[string]bool{}
	if err := fetchAllExtensions(source, &ext, mtd.GetInputType(), alreadyFetched); err != nil {
		return fmt.Errorf("error resolving server extensions for message %s: %v", mtd.GetInputType().GetFullyQualifiedName(), err)
	}
	if err := fetchAllExtensions(source, &ext, mtd.GetOutputType(), alreadyFetched); err != nil {
		return fmt.Errorf("error resolving server extensions for message %s: %v", mtd.GetOutputType().GetFullyQualifiedName(), err)
	}

	msgFactory := dynamic.NewMessageFactoryWithExtensionRegistry(&ext)
	req := msgFactory.NewMessage(mtd.GetInputType())

	handler.OnSendHeaders(md)
	ctx = metadata.NewOutgoingContext(ctx, md)

	var callOpts []grpc.CallOption
	if opts.MaxMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(opts.MaxMsgSize), grpc.MaxCallSendMsgSize(opts.MaxMsgSize))
	}

	stub := grpcdynamic.NewStubWithMessageFactory(ch, msgFactory)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	switch {
	case mtd.IsClientStreaming() && mtd.IsServerStreaming():
		return invokeBidi(ctx, stub, mtd, handler, requestData, req, callOpts)
	case mtd.IsClientStreaming():
		return invokeClientStream(ctx, stub, mtd, handler, requestData, req, callOpts)
	case mtd.IsServerStreaming():
		return invokeServerStream(ctx, stub, mtd, handler, requestData, req, callOpts)
	default:
		return invokeUnary(ctx, stub, mtd, handler, requestData, req, callOpts)
	}
}

func invokeUnary(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, handler InvocationEventHandler,
	requestData RequestSupplier, req proto.Message, callOpts []grpc.CallOption) error {

	err := requestData(req)
	if err != nil && err != io.EOF {
		return fmt.Errorf("error getting request data: %v", err)
	}
	if err != io.EOF {
		// verify there is no second message, which is a usage error
		if err := requestData(req); err == nil {
			return &ExtraMessagesError{Method: md.GetFullyQualifiedName()}
		} else if err != io.EOF {
			return fmt.Errorf("error getting request data: %v", err)
		}
	}

	var respHeaders metadata.MD
	var respTrailers metadata.MD
	callOpts = append(callOpts, grpc.Trailer(&respTrailers), grpc.Header(&respHeaders))
	resp, err := stub.InvokeRpc(ctx, md, req, callOpts...)

	stat, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("grpc call for %q failed: %v", md.GetFullyQualifiedName(), err)
	}

	handler.OnReceiveHeaders(respHeaders)

	if stat.Code() == codes.OK {
		handler.OnReceiveResponse(resp)
	}

	handler.OnReceiveTrailers(stat, respTrailers)

	if stat.Code() != codes.OK {
		return &GrpcStatusError{Status: stat}
	}
	return nil
}

func invokeClientStream(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, handler InvocationEventHandler,
	requestData RequestSupplier, req proto.Message, callOpts []grpc.CallOption) error {

	str, err := stub.InvokeRpcClientStream(ctx, md, callOpts...)

	var resp proto.Message
	for err == nil {
		err = requestData(req)
		if err == io.EOF {
			resp, err = str.CloseAndReceive()
			break
		}
		if err != nil {
			return fmt.Errorf("error getting request data: %v", err)
		}

		err = str.SendMsg(req)
		if err == io.EOF {
			// EOF on send means the server said "go away"; CloseAndReceive surfaces
			// the real status.
			resp, err = str.CloseAndReceive()
			break
		}

		req.Reset()
	}

	stat, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("grpc call for %q failed: %v", md.GetFullyQualifiedName(), err)
	}

	if respHeaders, err := str.Header(); err == nil {
		handler.OnReceiveHeaders(respHeaders)
	}

	if stat.Code() == codes.OK {
		handler.OnReceiveResponse(resp)
	}

	handler.OnReceiveTrailers(stat, str.Trailer())

	if stat.Code() != codes.OK {
		return &GrpcStatusError{Status: stat}
	}
	return nil
}

func invokeServerStream(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, handler InvocationEventHandler,
	requestData RequestSupplier, req proto.Message, callOpts []grpc.CallOption) error {

	err := requestData(req)
	if err != nil && err != io.EOF {
		return fmt.Errorf("error getting request data: %v", err)
	}
	if err != io.EOF {
		if err := requestData(req); err == nil {
			return &ExtraMessagesError{Method: md.GetFullyQualifiedName()}
		} else if err != io.EOF {
			return fmt.Errorf("error getting request data: %v", err)
		}
	}

	str, err := stub.InvokeRpcServerStream(ctx, md, req, callOpts...)

	if respHeaders, err := str.Header(); err == nil {
		handler.OnReceiveHeaders(respHeaders)
	}

	for err == nil {
		var resp proto.Message
		resp, err = str.RecvMsg()
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			break
		}
		handler.OnReceiveResponse(resp)
	}

	stat, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("grpc call for %q failed: %v", md.GetFullyQualifiedName(), err)
	}

	handler.OnReceiveTrailers(stat, str.Trailer())

	if stat.Code() != codes.OK {
		return &GrpcStatusError{Status: stat}
	}
	return nil
}

func invokeBidi(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, handler InvocationEventHandler,
	requestData RequestSupplier, req proto.Message, callOpts []grpc.CallOption) error {

	str, err := stub.InvokeRpcBidiStream(ctx, md, callOpts...)

	var wg sync.WaitGroup
	var sendErr atomic.Value

	defer wg.Wait()

	if err == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Upload each request message concurrently with the download loop below.
			// This goroutine must never block on anything the receive side produces:
			// that's what lets a bidi RPC stream both directions without buffering
			// the whole request (or response) in memory first.
			var err error
			for err == nil {
				err = requestData(req)

				if err == io.EOF {
					err = str.CloseSend()
					break
				}
				if err != nil {
					err = fmt.Errorf("error getting request data: %v", err)
					break
				}

				err = str.SendMsg(req)

				req.Reset()
			}

			if err != nil {
				sendErr.Store(err)
			}
		}()
	}

	if respHeaders, err := str.Header(); err == nil {
		handler.OnReceiveHeaders(respHeaders)
	}

	for err == nil {
		var resp proto.Message
		resp, err = str.RecvMsg()
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			break
		}
		handler.OnReceiveResponse(resp)
	}

	if se, ok := sendErr.Load().(error); ok && se != io.EOF {
		err = se
	}

	stat, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("grpc call for %q failed: %v", md.GetFullyQualifiedName(), err)
	}

	handler.OnReceiveTrailers(stat, str.Trailer())

	if stat.Code() != codes.OK {
		return &GrpcStatusError{Status: stat}
	}
	return nil
}

func expandHeaders(headers []string) ([]string, error) {
	var missing []string
	expanded := make([]string, len(headers))
	for i, h := range headers {
		expanded[i] = os.Expand(h, func(name string) string {
			v, ok := os.LookupEnv(name)
			if !ok {
				missing = append(missing, name)
			}
			return v
		})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("header expansion referenced unset environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// MetadataFromHeaders converts a list of header strings (each string in "Header-Name:
// Header-Value" form) into metadata. A string with a header name but no value (no colon)
// is given a blank value. Binary headers (names ending in "-bin") should be
// base64-encoded; if one cannot be decoded, it is used as-is. A header whose name is empty
// or contains characters gRPC metadata disallows is dropped with a warning rather than
// failing the whole call.
func MetadataFromHeaders(headers []string) metadata.MD {
	md := make(metadata.MD)
	for _, part := range headers {
		if part == "" {
			continue
		}
		pieces := strings.SplitN(part, ":", 2)
		if len(pieces) == 1 {
			pieces = append(pieces, "")
		}
		headerName := strings.ToLower(strings.TrimSpace(pieces[0]))
		val := strings.TrimSpace(pieces[1])
		if !isValidHeaderName(headerName) {
			warnf("dropping malformed header %q: invalid header name", part)
			continue
		}
		if strings.HasSuffix(headerName, "-bin") {
			if v, err := decode(val); err == nil {
				val = v
			}
		}
		md[headerName] = append(md[headerName], val)
	}
	return md
}

func isValidHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

var base64Codecs = []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding}

func decode(val string) (string, error) {
	var firstErr error
	var b []byte
	// lenient: accept any flavor of base64 encoding
	for _, d := range base64Codecs {
		var err error
		b, err = d.DecodeString(val)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return string(b), nil
	}
	return "", firstErr
}

func parseSymbol(svcAndMethod string) (string, string) {
	pos := strings.LastIndex(svcAndMethod, "/")
	if pos < 0 {
		pos = strings.LastIndex(svcAndMethod, ".")
		if pos < 0 {
			return "", ""
		}
	}
	return svcAndMethod[:pos], svcAndMethod[pos+1:]
}

// MetadataToString returns a string representation of the given metadata, for displaying
// to users. Binary ("-bin") header values are re-encoded as base64 for display.
func MetadataToString(md metadata.MD) string {
	if len(md) == 0 {
		return "(empty)"
	}

	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	first := true
	for _, k := range keys {
		for _, v := range md[k] {
			if first {
				first = false
			} else {
				b.WriteString("\n")
			}
			b.WriteString(k)
			b.WriteString(": ")
			if strings.HasSuffix(k, "-bin") {
				v = base64.StdEncoding.EncodeToString([]byte(v))
			}
			b.WriteString(v)
		}
	}
	return b.String()
}

var descriptorPrinter = &protoprint.Printer{
	Compact:                  true,
	OmitComments:             protoprint.CommentsNonDoc,
	SortElements:             true,
	ForceFullyQualifiedNames: true,
}

// GetDescriptorText returns a string representation of the given descriptor: a snippet of
// proto source describing just that element.
func GetDescriptorText(dsc desc.Descriptor) (string, error) {
	txt, err := descriptorPrinter.PrintProtoToString(dsc)
	if err != nil {
		return "", err
	}
	if len(txt) > 0 && txt[len(txt)-1] == '\n' {
		txt = txt[:len(txt)-1]
	}
	return txt, nil
}

// EnsureExtensions uses the given descriptor source to download extensions for the given
// message. It returns a copy of the message, but as a dynamic message that knows about all
// extensions known to the given descriptor source.
func EnsureExtensions(source DescriptorSource, msg proto.Message) proto.Message {
	dsc, err := desc.LoadMessageDescriptorForMessage(msg)
	if err != nil {
		return msg
	}

	var ext dynamic.ExtensionRegistry
	if err := fetchAllExtensions(source, &ext, dsc, map[string]bool{}); err != nil {
		return msg
	}

	msgFactory := dynamic.NewMessageFactoryWithExtensionRegistry(&ext)
	dm, err := fullyConvertToDynamic(msgFactory, msg)
	if err != nil {
		return msg
	}
	return dm
}

// fetchAllExtensions recursively fetches from the source extensions for the given message
// type as well as for the types of any nested message fields, so all source-known
// extensions can be correctly parsed and rendered.
func fetchAllExtensions(source DescriptorSource, ext *dynamic.ExtensionRegistry, md *desc.MessageDescriptor, alreadyFetched map[string]bool) error {
	msgTypeName := md.GetFullyQualifiedName()
	if alreadyFetched[msgTypeName] {
		return nil
	}
	alreadyFetched[msgTypeName] = true
	if len(md.GetExtensionRanges()) > 0 {
		fds, err := source.AllExtensionsForType(msgTypeName)
		if err != nil {
			return fmt.Errorf("failed to query for extensions of type %s: %v", msgTypeName, err)
		}
		for _, fd := range fds {
			if err := ext.AddExtension(fd); err != nil {
				return fmt.Errorf("could not register extension %s of type %s: %v", fd.GetFullyQualifiedName(), msgTypeName, err)
			}
		}
	}
	for _, fd := range md.GetFields() {
		if fd.GetMessageType() != nil {
			if err := fetchAllExtensions(source, ext, fd.GetMessageType(), alreadyFetched); err != nil {
				return err
			}
		}
	}
	return nil
}

// fullyConvertToDynamic attempts to convert the given message to a dynamic message, along
// with any nested messages it contains as field values, so that a message factory with
// extensions that were unknown when the message was first parsed can still recognize them.
func fullyConvertToDynamic(msgFact *dynamic.MessageFactory, msg proto.Message) (proto.Message, error) {
	if _, ok := msg.(*dynamic.Message); ok {
		return msg, nil
	}
	md, err := desc.LoadMessageDescriptorForMessage(msg)
	if err != nil {
		return nil, err
	}
	newMsg := msgFact.NewMessage(md)
	dm, ok := newMsg.(*dynamic.Message)
	if !ok {
		return msg, nil
	}

	if err := dm.ConvertFrom(msg); err != nil {
		return nil, err
	}

	for _, fd := range md.GetFields() {
		switch {
		case fd.IsMap():
			if fd.GetMapValueType().GetMessageType() != nil {
				m := dm.GetField(fd).(map[interface{}]interface{})
				for k, v := range m {
					newVal, err := fullyConvertToDynamic(msgFact, v.(proto.Message))
					if err != nil {
						return nil, err
					}
					dm.PutMapField(fd, k, newVal)
				}
			}
		case fd.IsRepeated():
			if fd.GetMessageType() != nil {
				s := dm.GetField(fd).([]interface{})
				for i, e := range s {
					newVal, err := fullyConvertToDynamic(msgFact, e.(proto.Message))
					if err != nil {
						return nil, err
					}
					dm.SetRepeatedField(fd, i, newVal)
				}
			}
		default:
			if fd.GetMessageType() != nil {
				v := dm.GetField(fd)
				newVal, err := fullyConvertToDynamic(msgFact, v.(proto.Message))
				if err != nil {
					return nil, err
				}
				dm.SetField(fd, newVal)
			}
		}
	}
	return dm, nil
}

// ClientTransportCredentials builds transport credentials for a gRPC client using the
// given properties. If cacertFile is blank, only standard trusted certs are used to verify
// the server cert. If clientCertFile is blank, the client presents no client certificate;
// if set, clientKeyFile must be set too. serverName, if non-empty, overrides the name used
// for both server-cert verification and SNI (useful when dialing by IP or through a proxy).
func ClientTransportCredentials(insecureSkipVerify bool, cacertFile, clientCertFile, clientKeyFile, serverName string) (credentials.TransportCredentials, error) {
	var tlsConf tls.Config
	tlsConf.ServerName = serverName

	if clientCertFile != "" {
		certificate, err := tls.LoadX509KeyPair(clientCertFile, clientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("could not load client key pair: %v", err)
		}
		tlsConf.Certificates = []tls.Certificate{certificate}
	}

	if insecureSkipVerify {
		tlsConf.InsecureSkipVerify = true
	} else if cacertFile != "" {
		certPool := x509.NewCertPool()
		ca, err := os.ReadFile(cacertFile)
		if err != nil {
			return nil, fmt.Errorf("could not read ca certificate: %v", err)
		}
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, errors.New("failed to append ca certs")
		}
		tlsConf.RootCAs = certPool
	}

	return credentials.NewTLS(&tlsConf), nil
}

// ServerTransportCredentials builds transport credentials for a gRPC server using the
// given properties. If cacertFile is blank, the server does not request client certs
// unless requireClientCerts is true. When requireClientCerts is false and cacertFile is
// not blank, the server verifies client certs when presented but does not require them.
// serverCertFile and serverKeyFile must both be set.
func ServerTransportCredentials(cacertFile, serverCertFile, serverKeyFile string, requireClientCerts bool) (credentials.TransportCredentials, error) {
	var tlsConf tls.Config

	certificate, err := tls.LoadX509KeyPair(serverCertFile, serverKeyFile)
	if err != nil {
		return nil, fmt.Errorf("could not load key pair: %v", err)
	}
	tlsConf.Certificates = []tls.Certificate{certificate}

	if cacertFile != "" {
		certPool := x509.NewCertPool()
		ca, err := os.ReadFile(cacertFile)
		if err != nil {
			return nil, fmt.Errorf("could not read ca certificate: %v", err)
		}
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, errors.New("failed to append ca certs")
		}
		tlsConf.ClientCAs = certPool
	}

	switch {
	case requireClientCerts:
		tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
	case cacertFile != "":
		tlsConf.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		tlsConf.ClientAuth = tls.NoClientCert
	}

	return credentials.NewTLS(&tlsConf), nil
}

// BlockingDial is a helper method to dial the given address, using optional TLS
// credentials, and blocking until the returned connection is ready. If the given
// credentials are nil, the connection is plain-text.
func BlockingDial(ctx context.Context, network, address string, creds credentials.TransportCredentials, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	// grpc.DialContext doesn't surface much detail about permanent connection errors
	// (like a TLS handshake failure). So, to get a good error message, we manage the
	// handshake ourselves in a custom dialer and report its result directly.
	result := make(chan interface{}, 1)

	writeResult := func(res interface{}) {
		select {
		case result <- res:
		default:
		}
	}

	dialer := func(ctx context.Context, address string) (net.Conn, error) {
		conn, err := (&net.Dialer{}).DialContext(ctx, network, address)
		if err != nil {
			writeResult(err)
			return nil, err
		}
		if creds != nil {
			conn, _, err = creds.ClientHandshake(ctx, address, conn)
			if err != nil {
				writeResult(err)
				return nil, err
			}
		}
		return conn, nil
	}

	go func() {
		opts = append(opts,
			grpc.WithBlock(),
			grpc.FailOnNonTempDialError(true),
			grpc.WithContextDialer(dialer),
			grpc.WithTransportCredentials(insecureDialCredentials{}),
		)
		conn, err := grpc.DialContext(ctx, address, opts...)
		var res interface{}
		if err != nil {
			res = err
		} else {
			res = conn
		}
		writeResult(res)
	}()

	select {
	case res := <-result:
		if conn, ok := res.(*grpc.ClientConn); ok {
			return conn, nil
		}
		return nil, res.(error)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// insecureDialCredentials tells grpc not to attempt its own TLS handshake, since
// BlockingDial's custom dialer above already performed one (or intentionally skipped it,
// for a plain-text connection).
type insecureDialCredentials struct{}

func (insecureDialCredentials) ClientHandshake(_ context.Context, _ string, conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return conn, nil, nil
}
func (insecureDialCredentials) ServerHandshake(conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return conn, nil, nil
}
func (insecureDialCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: "insecure"}
}
func (c insecureDialCredentials) Clone() credentials.TransportCredentials {
	return c
}
func (insecureDialCredentials) OverrideServerName(string) error {
	return nil
}
