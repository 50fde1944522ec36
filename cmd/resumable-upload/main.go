// Command resumable-upload uploads large files in parts and continues interrupted uploads
// where they left off.
//
// Usage:
//
//	resumable-upload upload [flags] <file or URL>
//	resumable-upload abort  [flags] <file or URL>
//	resumable-upload status [flags] <file or URL>
package main

import (
	"context"
	"io"
	"os"

	"github.com/bitrise-io/go-resumable-upload/config"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bytedance/sonic"
	"github.com/spf13/pflag"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitInterrupted = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], env.NewRepository(), os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, envRepo env.Repository, stdout, stderr io.Writer) int {
	logger := log.NewLogger()

	if len(args) == 0 {
		printUsage(stderr)
		return exitFailed
	}
	command, ok := commands[args[0]]
	if !ok {
		logger.Errorf("Unknown command: %s", args[0])
		printUsage(stderr)
		return exitFailed
	}

	flags := newFlagSet(args[0], stderr)
	if err := flags.Parse(args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		logger.Errorf("%s", err)
		return exitFailed
	}
	if flags.NArg() != 1 {
		logger.Errorf("%s expects exactly one source, got %d", args[0], flags.NArg())
		printUsage(stderr)
		return exitFailed
	}

	cfg, err := config.NewLoader(envRepo).Load(flags)
	if err != nil {
		logger.Errorf("%s", err)
		return exitFailed
	}
	logger.EnableDebugLog(cfg.Debug)
	if cfg.Debug {
		if values, err := sonic.ConfigStd.MarshalToString(cfg.Redacted(envRepo)); err == nil {
			logger.Debugf("Configuration: %s", values)
		}
	}

	a := app{cfg: cfg, envRepo: envRepo, logger: logger, stdout: stdout}
	err = command(a, ctx, flags.Arg(0))
	return exitCode(err, logger)
}

var commands = map[string]func(a app, ctx context.Context, src string) error{
	"upload": app.upload,
	"abort":  app.abort,
	"status": app.status,
}

func exitCode(err error, logger log.Logger) int {
	switch {
	case err == nil:
		return exitOK
	case upload.IsInterrupted(err):
		logger.Warnf("%s", err)
		logger.Printf("Run the same command again to continue the upload.")
		return exitInterrupted
	default:
		logger.Errorf("%s", err)
		return exitFailed
	}
}

func newFlagSet(name string, output io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(output)

	flags.String(config.ConfigFileKey, "", "config file (yaml, json, toml or ini)")
	flags.String(config.ProfileKey, "", "section of an ini config file")
	flags.String("backend", "", "storage backend: s3, minio, http or storj")
	flags.String("store", "", "checkpoint store: file or sqlite")
	flags.String("bucket", "", "destination bucket")
	flags.String("key-template", "", "object key template")
	flags.String("part-size", "", "part size, at least 5MiB")
	flags.String("access-policy", "", "access policy of the uploaded object")
	flags.String("state-dir", "", "directory of the checkpoint store")
	flags.String("staging-dir", "", "directory of downloaded and compressed sources")
	flags.Bool("compress", false, "upload a zstd compressed copy of the source")
	flags.Int("compression-level", 0, "zstd compression level")
	flags.String("progress", "", "progress output: log or json")
	flags.Bool("analytics", true, "send anonymous usage events")
	flags.Bool("debug", false, "enable debug logs")
	flags.String("s3-region", "", "S3 region, detected from the bucket when empty")
	flags.String("s3-endpoint", "", "endpoint of an S3 compatible service, required by minio")
	flags.Bool("s3-use-path-style", false, "use path style S3 addressing")
	flags.Uint("s3-retries", 0, "retries of failed S3 calls")
	flags.String("api-base-url", "", "base URL of the multipart upload API")
	flags.Bool("storj-ensure-bucket", false, "create the Storj bucket when missing")
	return flags
}

func printUsage(w io.Writer) {
	_, _ = io.WriteString(w, `Usage:
  resumable-upload upload [flags] <file or URL>   upload or continue uploading the source
  resumable-upload abort  [flags] <file or URL>   cancel the unfinished upload of the source
  resumable-upload status [flags] <file or URL>   show the unfinished upload of the source

Every flag can be set as RESUMABLE_UPLOAD_<FLAG_NAME> too, secrets (s3_secret_access_key,
api_token, storj_access_grant) only through the environment or the config file.
`)
}
