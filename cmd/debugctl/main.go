package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/vsrad/debugserver/client"
	"github.com/vsrad/debugserver/protocol"
	"go.uber.org/zap"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "debugctl",
		Usage:  "send commands to a debugserver",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Server address, host:port for TCP or a ws:// URL.",
				Value:   "127.0.0.1:9339",
				EnvVars: []string{"DEBUGCTL_ADDR"},
			},
			&cli.BoolFlag{
				Name:  "compress",
				Usage: "Send commands deflate-compressed when the server supports it.",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up on a command after this long. Zero waits forever.",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log protocol traffic.",
			},
		},
		Commands: []*cli.Command{
			infoCommand,
			execCommand,
			deployCommand,
			metadataCommand,
			fetchCommand,
			lsCommand,
			envCommand,
			pingCommand,
			statusCommand,
		},
	}
}

// withClient connects, runs f and disconnects.
func withClient(cctx *cli.Context, f func(ctx context.Context, c *client.Client) error) error {
	ctx := cctx.Context
	if d := cctx.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	opts := []client.Option{client.WithCompression(cctx.Bool("compress"))}
	if cctx.Bool("debug") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		opts = append(opts, client.WithLogger(logger))
	}

	var (
		c   *client.Client
		err error
	)
	addr := cctx.String("addr")
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		c, err = client.DialWebSocket(ctx, addr, opts...)
	} else {
		c, err = client.Dial(ctx, addr, opts...)
	}
	if err != nil {
		return err
	}
	defer c.Close()
	return f(ctx, c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var infoCommand = &cli.Command{
	Name:  "info",
	Usage: "show the server's identity and capabilities",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, c *client.Client) error {
			info := c.Capabilities()
			w := cctx.App.Writer
			fmt.Fprintf(w, "server:   %s %s\n", info.ServerIdentity, info.Version)
			fmt.Fprintf(w, "platform: %s (%s)\n", info.Platform, info.PlatformDetails)
			fmt.Fprintf(w, "protocol: %d\n", info.ProtocolVersion)
			for _, capability := range info.Capabilities {
				fmt.Fprintf(w, "  %s\n", capability)
			}
			return nil
		})
	},
}

var execCommand = &cli.Command{
	Name:      "exec",
	Usage:     "run a program on the server",
	ArgsUsage: "<executable> [arguments]",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "wd", Usage: "Working directory."},
		&cli.StringSliceFlag{Name: "env", Usage: "KEY=VALUE added to the environment. May be repeated."},
		&cli.UintFlag{Name: "exec-timeout", Usage: "Kill the program after this many seconds. Zero waits forever."},
		&cli.BoolFlag{Name: "elevated", Usage: "Run with administrator privileges."},
		&cli.BoolFlag{Name: "background", Usage: "Return as soon as the program has started."},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() < 1 {
			return fmt.Errorf("missing executable")
		}
		env := map[string]string{}
		for _, kv := range cctx.StringSlice("env") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
			}
			env[k] = v
		}
		cmd := &protocol.Execute{
			WorkingDirectory:     cctx.String("wd"),
			Executable:           cctx.Args().First(),
			Arguments:            strings.Join(cctx.Args().Tail(), " "),
			Environment:          env,
			RunAsAdministrator:   cctx.Bool("elevated"),
			Background:           cctx.Bool("background"),
			ExecutionTimeoutSecs: uint32(cctx.Uint("exec-timeout")),
		}
		return withClient(cctx, func(ctx context.Context, c *client.Client) error {
			resp, err := c.Execute(ctx, cmd)
			if err != nil {
				return err
			}
			fmt.Fprint(cctx.App.Writer, resp.Stdout)
			fmt.Fprint(cctx.App.ErrWriter, resp.Stderr)
			switch resp.Status {
			case protocol.StatusCouldNotLaunch:
				return cli.Exit(fmt.Sprintf("could not launch %s", cmd.Executable), 127)
			case protocol.StatusTimedOut:
				return cli.Exit(fmt.Sprintf("timed out after %s", resp.ExecutionTime), 124)
			}
			if resp.ExitCode != 0 {
				return cli.Exit("", int(resp.ExitCode))
			}
			return nil
		})
	},
}

var deployCommand = &cli.Command{
	Name:      "deploy",
	Usage:     "copy a local directory to the server",
	ArgsUsage: "<local dir> <remote destination>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "preserve-timestamps", Usage: "Keep modification times."},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return fmt.Errorf("expected a local directory and a remote destination")
		}
		return withClient(cctx, func(ctx context.Context, c *client.Client) error {
			resp, err := c.DeployDir(ctx, cctx.Args().Get(0), cctx.Args().Get(1), cctx.Bool("preserve-timestamps"))
			if err != nil {
				return err
			}
			if resp.Status != protocol.DeploySuccessful {
				return fmt.Errorf("deploy failed")
			}
			return nil
		})
	},
}

var metadataCommand = &cli.Command{
	Name:      "metadata",
	Usage:     "show the size and timestamp of a result file",
	ArgsUsage: "<path segments...>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "binary", Usage: "Treat the file as raw bytes instead of hex text."},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() == 0 {
			return fmt.Errorf("missing path")
		}
		return withClient(cctx, func(ctx context.Context, c *client.Client) error {
			resp, err := c.FetchMetadata(ctx, &protocol.FetchMetadata{
				FilePath:     cctx.Args().Slice(),
				BinaryOutput: cctx.Bool("binary"),
			})
			if err != nil {
				return err
			}
			if resp.Status != protocol.FetchSuccessful {
				return fmt.Errorf("file not found")
			}
			fmt.Fprintf(cctx.App.Writer, "%d bytes, modified %s\n", resp.ByteCount, resp.Timestamp.Format(time.RFC3339))
			return nil
		})
	},
}

var fetchCommand = &cli.Command{
	Name:      "fetch",
	Usage:     "download a byte range of a result file",
	ArgsUsage: "<path segments...>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "binary", Usage: "Treat the file as raw bytes instead of hex text."},
		&cli.IntFlag{Name: "offset", Usage: "Byte offset of the range."},
		&cli.IntFlag{Name: "count", Usage: "Byte count of the range. Zero with a zero offset fetches the whole binary file."},
		&cli.IntFlag{Name: "output-offset", Usage: "Bytes (binary) or lines (text) to skip first."},
		&cli.StringFlag{Name: "out", Usage: "Write the data to this file instead of stdout."},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() == 0 {
			return fmt.Errorf("missing path")
		}
		return withClient(cctx, func(ctx context.Context, c *client.Client) error {
			resp, err := c.FetchResultRange(ctx, &protocol.FetchResultRange{
				FilePath:     cctx.Args().Slice(),
				BinaryOutput: cctx.Bool("binary"),
				ByteOffset:   int32(cctx.Int("offset")),
				ByteCount:    int32(cctx.Int("count")),
				OutputOffset: int32(cctx.Int("output-offset")),
			})
			if err != nil {
				return err
			}
			if resp.Status != protocol.FetchSuccessful {
				return fmt.Errorf("file not found")
			}
			if out := cctx.String("out"); out != "" {
				return os.WriteFile(out, resp.Data, 0644)
			}
			_, err = cctx.App.Writer.Write(resp.Data)
			return err
		})
	},
}

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "list files under a directory on the server",
	ArgsUsage: "<root> [globs...]",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() == 0 {
			return fmt.Errorf("missing root")
		}
		return withClient(cctx, func(ctx context.Context, c *client.Client) error {
			files, err := c.ListFiles(ctx, &protocol.ListFiles{
				RootPath: cctx.Args().First(),
				Globs:    cctx.Args().Tail(),
			})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cctx.App.Writer, 0, 4, 2, ' ', 0)
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%d\t%s\n", f.RelativePath, f.Size, f.LastWriteTime.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var envCommand = &cli.Command{
	Name:  "env",
	Usage: "print the server's environment",
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, c *client.Client) error {
			vars, err := c.ListEnvironmentVariables(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cctx.App.Writer, "%s=%s\n", k, vars[k])
			}
			return nil
		})
	},
}

var pingCommand = &cli.Command{
	Name:  "ping",
	Usage: "measure the round trip time to the server",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Value: 3, Usage: "Number of pings."},
	},
	Action: func(cctx *cli.Context) error {
		return withClient(cctx, func(ctx context.Context, c *client.Client) error {
			for i := 0; i < cctx.Int("count"); i++ {
				rtt, err := c.Ping(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cctx.App.Writer, "pong: %s\n", rtt)
			}
			return nil
		})
	},
}

var statusCommand = &cli.Command{
	Name:      "status",
	Usage:     "query the server's HTTP status endpoint",
	ArgsUsage: "<status addr>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expected the status endpoint address")
		}
		sc := client.NewStatusClient(cctx.Args().First())
		hb, err := sc.Heartbeat(cctx.Context)
		if err != nil {
			return err
		}
		conns, err := sc.Connections(cctx.Context)
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, struct {
			Heartbeat   *client.Heartbeat
			Connections []client.Connection
		}{hb, conns})
	},
}
