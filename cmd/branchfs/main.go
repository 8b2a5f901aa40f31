// branchfs command-line front end
// Opens a local store and drives it in-process: inspect revisions, stage
// changes in a transaction, and commit.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/branchfs/branchfs/internal/logger"
	"github.com/branchfs/branchfs/internal/metrics"
	"github.com/branchfs/branchfs/pkg/fs"
	"github.com/branchfs/branchfs/pkg/tree"
)

var (
	dbPath      = flag.String("db", "branchfs.db", "Database file path")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	metricsPort = flag.Int("metrics-port", 0, "Serve Prometheus metrics on this port (0 disables)")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: branchfs [flags] <command> [args]

Commands:
  youngest                     print the youngest revision number
  ls <rev> <path>              list a directory
  cat <rev> <path>             print a file's contents
  changed <rev>                print the paths changed by a revision
  txns                         list open transactions
  begin <base-rev>             open a transaction, print its id
  mkdir <txn> <path>           create a directory in a transaction
  put <txn> <path>             create/replace a file from stdin
  rm <txn> <path>              delete a path (recursively)
  cp <txn> <from-rev> <from-path> <to-path>
                               copy with history into a transaction
  commit <txn>                 commit a transaction
  abort <txn>                  abort a transaction

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	logger.InitGlobalLogger(logger.Config{Level: *logLevel, Pretty: true})
	log := logger.GetGlobalLogger()

	var met *metrics.Metrics
	if *metricsPort > 0 {
		met = metrics.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			addr := fmt.Sprintf(":%d", *metricsPort)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("metrics listener failed").Err(err).Send()
			}
		}()
	}

	ctx := context.Background()
	store, err := fs.Open(ctx, fs.Config{Path: *dbPath, Logger: log, Metrics: met})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	if err := run(ctx, store, args); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "branchfs:", err)
	os.Exit(1)
}

func run(ctx context.Context, store *fs.FS, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "youngest":
		rev, err := store.YoungestRevision(ctx)
		if err != nil {
			return err
		}
		fmt.Println(rev)
		return nil

	case "ls":
		root, path, err := revRoot(store, rest)
		if err != nil {
			return err
		}
		entries, err := root.DirEntries(ctx, path)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s\t%s\n", entries[name], name)
		}
		return nil

	case "cat":
		root, path, err := revRoot(store, rest)
		if err != nil {
			return err
		}
		data, err := root.FileContents(ctx, path)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err

	case "changed":
		if len(rest) != 1 {
			return fmt.Errorf("changed: want <rev>")
		}
		rev, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return err
		}
		changes, err := store.Root(rev).PathsChanged(ctx)
		if err != nil {
			return err
		}
		paths := make([]string, 0, len(changes))
		for p := range changes {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Printf("%d\t%s\n", changes[p].Kind, p)
		}
		return nil

	case "txns":
		ids, err := store.ListTxns(ctx)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(ids, "\n"))
		return nil

	case "begin":
		if len(rest) != 1 {
			return fmt.Errorf("begin: want <base-rev>")
		}
		base, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return err
		}
		txn, err := store.BeginTxn(ctx, base)
		if err != nil {
			return err
		}
		fmt.Println(txn.ID)
		return nil

	case "mkdir":
		root, path, err := txnRoot(ctx, store, rest)
		if err != nil {
			return err
		}
		return root.MakeDir(ctx, path)

	case "put":
		root, path, err := txnRoot(ctx, store, rest)
		if err != nil {
			return err
		}
		if kind, err := root.CheckPath(ctx, path); err != nil {
			return err
		} else if kind == 0 {
			if err := root.MakeFile(ctx, path); err != nil {
				return err
			}
		}
		return root.ApplyText(ctx, path, os.Stdin)

	case "rm":
		root, path, err := txnRoot(ctx, store, rest)
		if err != nil {
			return err
		}
		return root.DeleteTree(ctx, path)

	case "cp":
		if len(rest) != 4 {
			return fmt.Errorf("cp: want <txn> <from-rev> <from-path> <to-path>")
		}
		txn, err := store.OpenTxn(ctx, rest[0])
		if err != nil {
			return err
		}
		fromRev, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return err
		}
		return tree.Copy(ctx, store.Root(fromRev), rest[2], txn.Root(), rest[3])

	case "commit":
		if len(rest) != 1 {
			return fmt.Errorf("commit: want <txn>")
		}
		txn, err := store.OpenTxn(ctx, rest[0])
		if err != nil {
			return err
		}
		rev, err := txn.Commit(ctx)
		if err != nil {
			if path, ok := fs.IsConflict(err); ok {
				return fmt.Errorf("conflict at %s", path)
			}
			return err
		}
		fmt.Println(rev)
		return nil

	case "abort":
		if len(rest) != 1 {
			return fmt.Errorf("abort: want <txn>")
		}
		txn, err := store.OpenTxn(ctx, rest[0])
		if err != nil {
			return err
		}
		return txn.Abort(ctx)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func revRoot(store *fs.FS, args []string) (*tree.Root, string, error) {
	if len(args) != 2 {
		return nil, "", fmt.Errorf("want <rev> <path>")
	}
	rev, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, "", err
	}
	return store.Root(rev), args[1], nil
}

func txnRoot(ctx context.Context, store *fs.FS, args []string) (*tree.Root, string, error) {
	if len(args) != 2 {
		return nil, "", fmt.Errorf("want <txn> <path>")
	}
	txn, err := store.OpenTxn(ctx, args[0])
	if err != nil {
		return nil, "", err
	}
	return txn.Root(), args[1], nil
}
