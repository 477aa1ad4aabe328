// Command stormdb-server runs a stormdb node.
//
// Every flag can also be set through the environment as STORMDB_<NAME>,
// with dashes turned into underscores (STORMDB_FSYNC_EVERY=10). Flags given
// on the command line take precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/raniellyferreira/stormdb"
	"github.com/raniellyferreira/stormdb/aof"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Printf("ERROR: %v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("stormdb-server", flag.ContinueOnError)
	var (
		host        = fs.String("host", "127.0.0.1", "Interface to listen on")
		port        = fs.Int("port", 6399, "TCP port to listen on")
		aofPath     = fs.String("aof", "", "Append-only file path (empty disables persistence)")
		appendfsync = fs.String("appendfsync", "everysec", "AOF fsync policy: always, everysec, everyn or no")
		fsyncEvery  = fs.Int("fsync-every", 100, "Records between fsyncs for the everyn policy")
		replicaOf   = fs.String("replicaof", "", "Follow a master, given as \"host port\"")
		requirePass = fs.String("requirepass", "", "Password clients must AUTH with")
		masterAuth  = fs.String("masterauth", "", "Password sent to the master")
		maxClients  = fs.Int("maxclients", 1024, "Maximum simultaneous client connections")
		showVersion = fs.Bool("version", false, "Print version information and exit")
	)

	if err := applyEnv(fs); err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		for k, v := range stormdb.VersionInfo() {
			fmt.Printf("%s: %s\n", k, v)
		}
		return nil
	}

	opts := []stormdb.Option{
		stormdb.WithAddr(net.JoinHostPort(*host, strconv.Itoa(*port))),
		stormdb.WithMaxClients(*maxClients),
		stormdb.WithPassword(*requirePass),
		stormdb.WithMasterAuth(*masterAuth),
	}

	if *aofPath != "" {
		policy, err := aof.ParseFsyncPolicy(*appendfsync)
		if err != nil {
			return err
		}
		opts = append(opts,
			stormdb.WithAOF(*aofPath),
			stormdb.WithFsyncPolicy(policy),
			stormdb.WithFsyncEvery(*fsyncEvery),
		)
	}

	if *replicaOf != "" {
		addr, err := parseReplicaOf(*replicaOf)
		if err != nil {
			return err
		}
		opts = append(opts, stormdb.WithReplicaOf(addr))
	}

	node, err := stormdb.New(opts...)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		node.Close()
		return err
	}
	log.Printf("INFO: stormdb %s ready addr=%s", stormdb.Version, node.Addr())

	<-ctx.Done()
	log.Println("INFO: shutting down")
	return node.Close()
}

// applyEnv sets flag defaults from STORMDB_* variables.
func applyEnv(fs *flag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *flag.Flag) {
		name := "STORMDB_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		value, ok := os.LookupEnv(name)
		if !ok || err != nil {
			return
		}
		if setErr := f.Value.Set(value); setErr != nil {
			err = fmt.Errorf("invalid %s: %w", name, setErr)
		}
	})
	return err
}

// parseReplicaOf accepts "host port" as well as "host:port".
func parseReplicaOf(value string) (string, error) {
	fields := strings.Fields(value)
	switch len(fields) {
	case 1:
		if _, _, err := net.SplitHostPort(fields[0]); err != nil {
			return "", fmt.Errorf("invalid replicaof %q: %w", value, err)
		}
		return fields[0], nil
	case 2:
		if _, err := strconv.Atoi(fields[1]); err != nil {
			return "", fmt.Errorf("invalid replicaof port %q", fields[1])
		}
		return net.JoinHostPort(fields[0], fields[1]), nil
	}
	return "", fmt.Errorf("invalid replicaof %q: want \"host port\"", value)
}
