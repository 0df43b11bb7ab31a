// Command grpcurl is a command-line client for interacting with gRPC servers: it can list
// and describe services, and invoke arbitrary methods using JSON or proto-text request
// data, against servers that support the reflection API as well as against a set of
// locally supplied .proto files or a compiled descriptor set.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/dynrpc/grpcurl"
	"github.com/dynrpc/grpcurl/internal/protoset"
)

// Exit codes follow the convention this CLI commits to: 0 on success, 1 for a general
// (non-usage) failure, 2 for a usage error, and 64+code for an RPC that completed with a
// non-OK status, so scripts can distinguish which RPC failed without scraping stderr.
const (
	exitOK           = 0
	exitFailure      = 1
	exitUsage        = 2
	exitStatusOffset = 64
)

var log = logrus.StandardLogger()

type config struct {
	plaintext bool
	insecure  bool
	cacert    string
	cert      string
	key       string
	authority string

	connectTimeout time.Duration
	keepaliveTime  time.Duration
	maxTime        time.Duration
	maxMsgSize     int

	protosetFiles []string
	protoFiles    []string
	importPaths   []string
	useReflection bool

	data string

	format             string
	emitDefaults       bool
	allowUnknownFields bool
	verbosity          int

	headers       []string
	rpcHeaders    []string
	expandHeaders bool

	protosetOut string
	protoOutDir string

	msgTemplate bool
}

func main() {
	cfg := &config{useReflection: true}

	root := &cobra.Command{
		Use:           "grpcurl [flags] address (list|describe|invoke-symbol) [symbol]",
		Short:         "A command-line client for gRPC servers.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, args)
		},
	}

	flags := root.Flags()
	flags.BoolVar(&cfg.plaintext, "plaintext", false, "connect over plain-text, without TLS")
	flags.BoolVar(&cfg.insecure, "insecure", false, "skip server certificate verification")
	flags.StringVar(&cfg.cacert, "cacert", "", "path to a CA certificate file")
	flags.StringVar(&cfg.cert, "cert", "", "path to a client certificate file")
	flags.StringVar(&cfg.key, "key", "", "path to a client private key file")
	flags.StringVar(&cfg.authority, "authority", "", "override the :authority/TLS server name")

	flags.DurationVar(&cfg.connectTimeout, "connect-timeout", 10*time.Second, "time to wait for the connection to be established")
	flags.DurationVar(&cfg.keepaliveTime, "keepalive-time", 0, "keepalive ping interval for an idle connection (0 disables)")
	flags.DurationVar(&cfg.maxTime, "max-time", 0, "total time allotted for the whole operation (0 means no limit)")
	flags.IntVar(&cfg.maxMsgSize, "max-msg-sz", 0, "maximum size in bytes of a single message (0 means use the gRPC default)")

	flags.StringArrayVar(&cfg.protosetFiles, "protoset", nil, "path to a compiled protoset file (repeatable)")
	flags.StringArrayVar(&cfg.protoFiles, "proto", nil, "path to a .proto source file (repeatable)")
	flags.StringArrayVar(&cfg.importPaths, "import-path", nil, "additional directory to search for imports of -proto files (repeatable)")
	flags.BoolVar(&cfg.useReflection, "use-reflection", true, "use the server's reflection service to resolve symbols")

	flags.StringVarP(&cfg.data, "data", "d", "", "request data; use '@' to read from stdin")

	flags.StringVar(&cfg.format, "format", "json", "request/response format: json or text")
	flags.BoolVar(&cfg.emitDefaults, "emit-defaults", false, "emit JSON fields with default/zero values")
	flags.BoolVar(&cfg.allowUnknownFields, "allow-unknown-fields", false, "do not fail on unrecognized JSON fields")
	flags.CountVarP(&cfg.verbosity, "verbose", "v", "increase verbosity (repeatable: -v, -vv)")

	flags.StringArrayVarP(&cfg.headers, "header", "H", nil, "request metadata header 'Name: Value' (repeatable)")
	flags.StringArrayVar(&cfg.rpcHeaders, "rpc-header", nil, "request metadata header, sent with the RPC like -H; neither -H nor -rpc-header is sent on reflection requests (repeatable)")
	flags.BoolVar(&cfg.expandHeaders, "expand-headers", false, "expand ${VAR} in header values against the environment")

	flags.StringVar(&cfg.protosetOut, "protoset-out", "", "write the resolved descriptors as a protoset to this file")
	flags.StringVar(&cfg.protoOutDir, "proto-out-dir", "", "write the resolved descriptors as .proto source under this directory")

	flags.BoolVar(&cfg.msgTemplate, "msg-template", false, "with describe, also print a JSON template for the described message")

	if err := root.Execute(); err != nil {
		os.Exit(exitFor(err))
	}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func exitFor(err error) int {
	if err == nil {
		return exitOK
	}
	if ue, ok := err.(*usageError); ok {
		fmt.Fprintln(os.Stderr, ue.Error())
		return exitUsage
	}
	if gse, ok := err.(*grpcurl.GrpcStatusError); ok {
		fmt.Fprintln(os.Stderr, formatStatusForExit(gse.Status))
		return exitStatusOffset + int(gse.Status.Code())
	}
	fmt.Fprintln(os.Stderr, "ERROR:", err)
	return exitFailure
}

// formatStatusForExit renders a terminal failing status using the library's status
// formatter; exit-time error reporting always uses JSON regardless of the user's chosen
// request/response format.
func formatStatusForExit(stat *status.Status) string {
	return strings.TrimSuffix(grpcurl.FormatStatus(stat, grpcurl.NewJSONFormatter(false, "  ")), "\n")
}

func run(ctx context.Context, cfg *config, args []string) error {
	grpcurl.SetWarningLogger(log.Warnf)

	target := args[0]
	rest := args[1:]

	if cfg.maxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.maxTime)
		defer cancel()
	}

	cc, err := dial(ctx, cfg, target)
	if err != nil {
		return err
	}
	defer cc.Close()

	source, cleanup, err := buildDescriptorSource(ctx, cfg, cc)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.protosetOut != "" || cfg.protoOutDir != "" {
		if err := exportDescriptors(cfg, source); err != nil {
			return err
		}
	}

	if len(rest) == 0 {
		return &usageError{msg: "expected a verb: list, describe, or a fully-qualified method name"}
	}

	switch rest[0] {
	case "list":
		return doList(source, rest[1:])
	case "describe":
		return doDescribe(source, cfg, rest[1:])
	default:
		return doInvoke(ctx, cfg, source, cc, rest[0])
	}
}

func dial(ctx context.Context, cfg *config, target string) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if !cfg.plaintext {
		var err error
		creds, err = grpcurl.ClientTransportCredentials(cfg.insecure, cfg.cacert, cfg.cert, cfg.key, cfg.authority)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %v", err)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	var opts []grpc.DialOption
	if cfg.keepaliveTime > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.keepaliveTime,
			Timeout: cfg.connectTimeout,
		}))
	}
	if cfg.authority != "" {
		opts = append(opts, grpc.WithAuthority(cfg.authority))
	}

	return grpcurl.BlockingDial(dialCtx, "tcp", target, creds, opts...)
}

func buildDescriptorSource(ctx context.Context, cfg *config, cc *grpc.ClientConn) (grpcurl.DescriptorSource, func(), error) {
	var localSource grpcurl.DescriptorSource
	var err error
	switch {
	case len(cfg.protosetFiles) > 0:
		localSource, err = grpcurl.DescriptorSourceFromProtoSets(cfg.protosetFiles...)
	case len(cfg.protoFiles) > 0:
		localSource, err = grpcurl.DescriptorSourceFromProtoFiles(cfg.importPaths, cfg.protoFiles...)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load descriptors: %v", err)
	}

	if !cfg.useReflection {
		if localSource == nil {
			return nil, nil, &usageError{msg: "must specify -protoset or -proto when -use-reflection=false"}
		}
		return localSource, func() {}, nil
	}

	refClient := grpcurl.NewReflectionClient(ctx, cc, grpcurl.ReflectionAuto)
	reflSource := grpcurl.DescriptorSourceFromServer(ctx, refClient)
	cleanup := func() { refClient.Reset() }

	if localSource == nil {
		return reflSource, cleanup, nil
	}
	return grpcurl.NewCompositeSource(localSource, reflSource), cleanup, nil
}

func exportDescriptors(cfg *config, source grpcurl.DescriptorSource) error {
	files, err := grpcurl.GetAllFiles(source)
	if err != nil {
		return fmt.Errorf("failed to enumerate descriptors: %v", err)
	}
	fs := afero.NewOsFs()
	if cfg.protosetOut != "" {
		if err := protoset.WriteProtoset(fs, cfg.protosetOut, files); err != nil {
			return fmt.Errorf("failed to write protoset: %v", err)
		}
	}
	if cfg.protoOutDir != "" {
		if err := protoset.WriteProtoSourceTree(fs, cfg.protoOutDir, files); err != nil {
			return fmt.Errorf("failed to write proto source tree: %v", err)
		}
	}
	return nil
}

func doList(source grpcurl.DescriptorSource, args []string) error {
	if len(args) == 0 {
		svcs, err := grpcurl.ListServices(source)
		if err != nil {
			return err
		}
		for _, s := range svcs {
			fmt.Println(s)
		}
		return nil
	}
	methods, err := grpcurl.ListMethods(source, args[0])
	if err != nil {
		return err
	}
	for _, m := range methods {
		fmt.Printf("%s.%s\n", args[0], m)
	}
	return nil
}

func doDescribe(source grpcurl.DescriptorSource, cfg *config, args []string) error {
	if len(args) == 0 {
		return &usageError{msg: "describe requires a symbol name"}
	}
	dsc, err := source.FindSymbol(args[0])
	if err != nil {
		return err
	}
	txt, err := grpcurl.DescribeDescriptor(args[0], dsc)
	if err != nil {
		return err
	}
	fmt.Println(txt)

	if cfg.msgTemplate {
		md, ok := dsc.(*desc.MessageDescriptor)
		if !ok {
			return &usageError{msg: fmt.Sprintf("%s is not a message; -msg-template only applies to messages", args[0])}
		}
		str, err := grpcurl.RenderTemplate(grpcurl.MakeTemplate(md))
		if err != nil {
			return fmt.Errorf("failed to render message template: %v", err)
		}
		fmt.Println("\nMessage template:")
		fmt.Println(str)
	}
	return nil
}

func doInvoke(ctx context.Context, cfg *config, source grpcurl.DescriptorSource, cc *grpc.ClientConn, method string) error {
	var in io.Reader = strings.NewReader("")
	switch {
	case cfg.data == "@":
		in = os.Stdin
	case cfg.data != "":
		in = strings.NewReader(cfg.data)
	}

	var parser grpcurl.RequestParser
	var formatter grpcurl.Formatter
	if cfg.format == "text" {
		parser = grpcurl.NewTextRequestParser(in)
		formatter = grpcurl.NewTextFormatter()
	} else {
		parser = grpcurl.NewJSONRequestParser(in, cfg.allowUnknownFields)
		formatter = grpcurl.NewJSONFormatter(cfg.emitDefaults, "  ")
	}

	verbosity := grpcurl.VerbosityNormal
	switch {
	case cfg.verbosity >= 2:
		verbosity = grpcurl.VerbosityVeryVerbose
	case cfg.verbosity == 1:
		verbosity = grpcurl.VerbosityVerbose
	}
	handler := grpcurl.NewDefaultEventHandler(os.Stdout, formatter, verbosity)

	opts := grpcurl.Options{
		MaxMsgSize:    cfg.maxMsgSize,
		ExpandHeaders: cfg.expandHeaders,
	}

	requestData := func(msg proto.Message) error {
		err := parser.Next(msg)
		if err == nil {
			handler.CountRequest()
		}
		return err
	}

	err := grpcurl.InvokeRPC(ctx, source, cc, method, cfg.headers, cfg.rpcHeaders, opts, handler, requestData)
	if err != nil {
		return err
	}
	return nil
}
