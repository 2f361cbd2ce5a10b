package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitalvas/tofusig/directory"
	"github.com/vitalvas/tofusig/internal/config"
	"github.com/vitalvas/tofusig/internal/server"
)

// errNotVerified makes the process exit with status 1.
var errNotVerified = errors.New("request not verified")

type rootFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "tofusig",
		Short:         "Verify HTTP message signatures against trust-on-first-use key directories",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "path to a .env file, ignored when missing")

	root.AddCommand(
		newServeCmd(&flags),
		newResolveCmd(&flags),
		newVerifyCmd(&flags),
	)

	return root
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var trustRequestID bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP verification service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := server.New(a.verifier, a.resolver, server.Config{
				Verify:         a.cfg.VerifierConfig(),
				TrustRequestID: trustRequestID,
			}, a.log)
			if err != nil {
				return err
			}

			return server.Run(ctx, a.cfg.Server.Addr, srv,
				config.Duration(a.cfg.Server.ReadTimeout),
				config.Duration(a.cfg.Server.ShutdownTimeout),
				a.log,
			)
		},
	}

	cmd.Flags().BoolVar(&trustRequestID, "trust-request-id", false, "reuse incoming X-Request-ID headers")

	return cmd
}

func newResolveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url|domain>",
		Short: "Fetch and print a key directory",
		Long: "Fetch a key directory and print it as JSON. A bare domain is expanded to\n" +
			"https://<domain>" + directory.WellKnownPath + ".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			target, err := directoryTarget(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx, flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, err := a.resolver.Resolve(ctx, target, 0)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), dir)
		},
	}
}

func newVerifyCmd(flags *rootFlags) *cobra.Command {
	var (
		requestPath  string
		debug        bool
		directoryURL string
		purpose      string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a raw HTTP/1.1 request read from a file",
		Long: "Verify a raw HTTP/1.1 request and print the result as JSON. The process\n" +
			"exits with status 1 when the request does not verify.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			req, err := readRequest(cmd.InOrStdin(), requestPath)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			vcfg := a.cfg.VerifierConfig()
			if directoryURL != "" {
				vcfg.DirectoryURL = directoryURL
			}

			if cmd.Flags().Changed("purpose") {
				vcfg.ExpectedPurpose = purpose
			}

			verify := a.verifier.Verify
			if debug {
				verify = a.verifier.VerifyDebug
			}

			res, err := verify(ctx, req, vcfg)
			if err != nil {
				return err
			}

			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}

			if !res.Valid {
				return errNotVerified
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&requestPath, "request", "r", "", `file holding the raw request, "-" for stdin`)
	cmd.Flags().BoolVar(&debug, "debug", false, "attach a debug snapshot to the result")
	cmd.Flags().StringVar(&directoryURL, "directory-url", "", "override the configured directory URL")
	cmd.Flags().StringVar(&purpose, "purpose", "", "override the expected purpose")
	_ = cmd.MarkFlagRequired("request")

	return cmd
}

// directoryTarget turns a URL or a bare domain into a directory URL.
func directoryTarget(arg string) (string, error) {
	if strings.Contains(arg, "://") {
		if err := directory.ValidateURL(arg); err != nil {
			return "", err
		}

		return arg, nil
	}

	return directory.WellKnownURL(arg)
}

func readRequest(stdin io.Reader, path string) (*http.Request, error) {
	var (
		raw []byte
		err error
	)

	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, err
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}

	return req, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
