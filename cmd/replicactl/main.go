// Command replicactl drives a Replica from the command line: every
// invocation opens the replica fresh, calls FixConsistency (spec §4.3.4:
// "called on every open"), performs the requested operation, and exits —
// transactional state survives purely on the backend between invocations,
// the same way the engine is meant to be used by a long-lived gateway
// process that opens one replica per request.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/sgfsdriver/replica/internal/logging"
	"github.com/sgfsdriver/replica/pkg/backend/local"
	"github.com/sgfsdriver/replica/pkg/replication"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	ctx := logging.WithLogger(context.Background(), logger)

	app := &cli.App{
		Name:  "replicactl",
		Usage: "drive a block replica against a local backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "backend work root"},
			&cli.StringFlag{Name: "path", Required: true, Usage: "logical replica path"},
			&cli.UintFlag{Name: "block-size", Value: 4096, Usage: "block size in bytes"},
		},
		Commands: []*cli.Command{
			fsckCommand(),
			beginCommand(),
			writeCommand(),
			readCommand(),
			deleteCommand(),
			commitCommand(),
			rollbackCommand(),
			renameCommand(),
			statCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("replicactl failed")
		os.Exit(1)
	}
}

func openReplica(ctx context.Context, c *cli.Context) (*replication.Replica, error) {
	fs, err := local.New(local.Options{WorkRoot: c.String("root")})
	if err != nil {
		return nil, err
	}
	r, err := replication.Open(ctx, fs, c.String("path"), uint32(c.Uint("block-size")))
	if err != nil {
		return nil, err
	}
	if err := r.FixConsistency(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func fsckCommand() *cli.Command {
	return &cli.Command{
		Name:  "fsck",
		Usage: "normalize on-disk state to COMMITTED",
		Action: func(c *cli.Context) error {
			_, err := openReplica(c.Context, c)
			return err
		},
	}
}

func beginCommand() *cli.Command {
	return &cli.Command{
		Name:  "begin",
		Usage: "start a transaction",
		Action: func(c *cli.Context) error {
			r, err := openReplica(c.Context, c)
			if err != nil {
				return err
			}
			return r.BeginTransaction(c.Context)
		},
	}
}

func commitCommand() *cli.Command {
	return &cli.Command{
		Name: "commit",
		Action: func(c *cli.Context) error {
			r, err := openReplica(c.Context, c)
			if err != nil {
				return err
			}
			return r.Commit(c.Context)
		},
	}
}

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name: "rollback",
		Action: func(c *cli.Context) error {
			r, err := openReplica(c.Context, c)
			if err != nil {
				return err
			}
			return r.Rollback(c.Context)
		},
	}
}

// parseBlockSpec parses "id:version:data" or "id:version" (read/delete)
// into its components. version may be the literal "new", which asks
// replicactl to mint a fresh version via uuid (truncated to an int64 hash),
// for callers that don't want to track versions themselves.
func parseBlockSpec(spec string) (id int64, version int64, data string, err error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return 0, 0, "", fmt.Errorf("block spec %q must be id:version[:data]", spec)
	}
	id, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("bad block id %q: %w", parts[0], err)
	}
	if parts[1] == "new" {
		version = newVersion()
	} else {
		version, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, "", fmt.Errorf("bad version %q: %w", parts[1], err)
		}
	}
	if len(parts) == 3 {
		data = parts[2]
	}
	return id, version, data, nil
}

func newVersion() int64 {
	u := uuid.New()
	var v int64
	for _, b := range u[:8] {
		v = v<<8 | int64(b)
	}
	if v == 0 {
		v = 1
	}
	if v < 0 {
		v = -v
	}
	return v
}

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "write-data-blocks, e.g. --block 0:1:AAAA --block 1:1:BB",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "block", Required: true},
		},
		Action: func(c *cli.Context) error {
			r, err := openReplica(c.Context, c)
			if err != nil {
				return err
			}
			var reqs []replication.WriteRequest
			for _, spec := range c.StringSlice("block") {
				id, version, data, err := parseBlockSpec(spec)
				if err != nil {
					return err
				}
				reqs = append(reqs, replication.WriteRequest{ID: id, Version: version, Data: []byte(data)})
			}
			return r.WriteDataBlocks(c.Context, reqs)
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "read-data-blocks, e.g. --block 0:1",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "block", Required: true},
		},
		Action: func(c *cli.Context) error {
			r, err := openReplica(c.Context, c)
			if err != nil {
				return err
			}
			var reqs []replication.ReadRequest
			for _, spec := range c.StringSlice("block") {
				id, version, _, err := parseBlockSpec(spec)
				if err != nil {
					return err
				}
				reqs = append(reqs, replication.ReadRequest{ID: id, Version: version})
			}
			results, err := r.ReadDataBlocks(c.Context, reqs)
			if err != nil {
				return err
			}
			for _, res := range results {
				if res.Data == nil {
					fmt.Printf("%d:%d -> <hole>\n", res.ID, res.Version)
				} else {
					fmt.Printf("%d:%d -> %q\n", res.ID, res.Version, res.Data)
				}
			}
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "delete-data-blocks, e.g. --block 0:1",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "block", Required: true},
		},
		Action: func(c *cli.Context) error {
			r, err := openReplica(c.Context, c)
			if err != nil {
				return err
			}
			var reqs []replication.DeleteRequest
			for _, spec := range c.StringSlice("block") {
				id, version, _, err := parseBlockSpec(spec)
				if err != nil {
					return err
				}
				reqs = append(reqs, replication.DeleteRequest{ID: id, Version: version})
			}
			return r.DeleteDataBlocks(c.Context, reqs)
		},
	}
}

func renameCommand() *cli.Command {
	return &cli.Command{
		Name: "rename",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Required: true},
		},
		Action: func(c *cli.Context) error {
			r, err := openReplica(c.Context, c)
			if err != nil {
				return err
			}
			return r.Rename(c.Context, c.String("to"))
		},
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name: "stat",
		Action: func(c *cli.Context) error {
			r, err := openReplica(c.Context, c)
			if err != nil {
				return err
			}
			size, err := r.GetDataFileSize(c.Context)
			if err != nil {
				return err
			}
			length, err := r.GetDataBlockLen(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("size=%d blocks=%d\n", size, length)
			return nil
		},
	}
}
