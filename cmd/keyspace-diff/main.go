// Command keyspace-diff compares the keyspace of two endpoints, typically a
// master and one of its replicas, and exits non-zero when they differ.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DatabaseStats represents the INFO keyspace line of one database
type DatabaseStats struct {
	Keys    int64
	Expires int64
}

// Entry is one key as seen by an endpoint
type Entry struct {
	Type  string
	Value []string
}

// Snapshot is the keyspace of one endpoint
type Snapshot struct {
	Stats   DatabaseStats
	Entries map[string]Entry
}

var dbRegex = regexp.MustCompile(`db0:keys=(\d+),expires=(\d+)`)

func main() {
	var refAddr = flag.String("ref", "", "Reference endpoint (host:port)")
	var sutAddr = flag.String("sut", "", "System under test endpoint (host:port)")
	var pattern = flag.String("pattern", "*", "Only compare keys matching this glob pattern")
	var password = flag.String("password", "", "Password for both endpoints")
	var timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	var helpFlag = flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *helpFlag || *refAddr == "" || *sutAddr == "" {
		fmt.Println("Keyspace Comparison Tool")
		fmt.Println("========================")
		fmt.Println("Usage: keyspace-diff --ref=host:port --sut=host:port [--pattern=glob]")
		fmt.Println("")
		fmt.Println("Example:")
		fmt.Println("  keyspace-diff --ref=localhost:6399 --sut=localhost:6400 --pattern='user:*'")
		os.Exit(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("Comparing keyspaces:\n")
	fmt.Printf("  Reference: %s\n", *refAddr)
	fmt.Printf("  System:    %s\n", *sutAddr)
	fmt.Printf("  Pattern:   %s\n\n", *pattern)

	ref, err := fetchSnapshot(ctx, *refAddr, *password, *pattern)
	if err != nil {
		log.Fatalf("Failed to read reference %s: %v", *refAddr, err)
	}
	sut, err := fetchSnapshot(ctx, *sutAddr, *password, *pattern)
	if err != nil {
		log.Fatalf("Failed to read system %s: %v", *sutAddr, err)
	}

	if differences := compareSnapshots(os.Stdout, ref, sut); differences > 0 {
		fmt.Printf("FAILURE: %d differences found\n", differences)
		os.Exit(1)
	}
	fmt.Println("SUCCESS: keyspaces match")
}

// fetchSnapshot reads INFO keyspace and every matching key from addr
func fetchSnapshot(ctx context.Context, addr, password, pattern string) (*Snapshot, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DisableIdentity: true,
	})
	defer client.Close()

	info, err := client.Info(ctx, "keyspace").Result()
	if err != nil {
		return nil, fmt.Errorf("INFO keyspace: %w", err)
	}

	keys, err := client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("KEYS: %w", err)
	}

	snap := &Snapshot{
		Stats:   parseKeyspaceInfo(info),
		Entries: make(map[string]Entry, len(keys)),
	}
	for _, key := range keys {
		typ, err := client.Type(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("TYPE %s: %w", key, err)
		}

		var value []string
		switch typ {
		case "string":
			v, err := client.Get(ctx, key).Result()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("GET %s: %w", key, err)
			}
			value = []string{v}
		case "list":
			value, err = client.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				return nil, fmt.Errorf("LRANGE %s: %w", key, err)
			}
		case "none":
			// Expired between KEYS and TYPE.
			continue
		}
		snap.Entries[key] = Entry{Type: typ, Value: value}
	}
	return snap, nil
}

// parseKeyspaceInfo extracts the db0 line from an INFO keyspace reply
func parseKeyspaceInfo(info string) DatabaseStats {
	var stats DatabaseStats
	for _, line := range strings.Split(info, "\n") {
		if matches := dbRegex.FindStringSubmatch(strings.TrimSpace(line)); matches != nil {
			stats.Keys, _ = strconv.ParseInt(matches[1], 10, 64)
			stats.Expires, _ = strconv.ParseInt(matches[2], 10, 64)
		}
	}
	return stats
}

// compareSnapshots prints every difference to w and returns their count
func compareSnapshots(w io.Writer, ref, sut *Snapshot) int {
	differences := 0

	if ref.Stats != sut.Stats {
		fmt.Fprintf(w, "db0: REF keys=%d,expires=%d SUT keys=%d,expires=%d\n",
			ref.Stats.Keys, ref.Stats.Expires, sut.Stats.Keys, sut.Stats.Expires)
		differences++
	}

	all := make(map[string]bool, len(ref.Entries))
	for key := range ref.Entries {
		all[key] = true
	}
	for key := range sut.Entries {
		all[key] = true
	}
	keys := make([]string, 0, len(all))
	for key := range all {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		r, inRef := ref.Entries[key]
		s, inSut := sut.Entries[key]
		switch {
		case !inSut:
			fmt.Fprintf(w, "%s: missing in SYSTEM\n", key)
		case !inRef:
			fmt.Fprintf(w, "%s: missing in REFERENCE\n", key)
		case r.Type != s.Type:
			fmt.Fprintf(w, "%s: type REF=%s SUT=%s\n", key, r.Type, s.Type)
		case !equalValues(r.Value, s.Value):
			fmt.Fprintf(w, "%s: value REF=%q SUT=%q\n", key, r.Value, s.Value)
		default:
			continue
		}
		differences++
	}
	return differences
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
