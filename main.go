package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	log2 "github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/log"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/o11y"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/provider"
	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	slogmulti "github.com/samber/slog-multi"
)

// Run "go generate" to format example terraform files and generate the docs for the registry/website

// If you do not have terraform installed, you can remove the formatting command, but its suggested to
// ensure the documentation is formatted properly.
//go:generate terraform fmt -recursive ./examples/

// Run the docs generation tool, check its repository for more information on how it works and how docs
// can be customized.
//go:generate go tool tfplugindocs

// these will be set by the goreleaser configuration
// to appropriate values for the compiled binary.
var version string = "dev"

// goreleaser can pass other information to the main package, such as the specific commit
// https://goreleaser.com/cookbooks/using-main.version/

func main() {
	var debug bool
	flag.BoolVar(&debug, "debug", false, "set to true to run the provider with support for debuggers like delve")
	flag.Parse()

	opts := providerserver.ServeOpts{
		Address: "registry.terraform.io/chainguard-dev/cloud9ssm",
		Debug:   debug,
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTracing, err := o11y.SetupTracing(ctx)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	otelHandler, shutdownLogging, err := o11y.SetupLogging(ctx)
	if err != nil {
		log.Fatalf("failed to set up log export: %v", err)
	}
	defer func() { _ = shutdownLogging(context.Background()) }()

	ctx = setupLog(ctx, otelHandler)

	if err := providerserver.Serve(ctx, provider.New(version), opts); err != nil {
		log.Fatal(err.Error())
	}
}

// setupLog sets up the default logging configuration. extra handlers, when
// not nil, receive every record as well.
func setupLog(ctx context.Context, extra ...slog.Handler) context.Context {
	handlers := []slog.Handler{log2.NewTFHandler()}
	for _, h := range extra {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	logger := clog.New(slogmulti.Fanout(handlers...))
	ctx = clog.WithLogger(ctx, logger)
	slog.SetDefault(&logger.Logger)
	return ctx
}
