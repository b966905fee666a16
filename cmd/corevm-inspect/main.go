// Command corevm-inspect fetches a debug snapshot from a running service
// that embeds a corevm instance and prints it, optionally recording every
// fetch into a local Badger database for later trend/diff queries.
//
// The target service is expected to expose:
//   - GET /debug/corevm/snapshot — JSON payload, see pkg/vm.Snapshot.
//   - GET /metrics              — standard Prometheus handler.
//
// © 2025 corevm authors. MIT License.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

var version = "dev"

type options struct {
	target   string
	json     bool
	watch    bool
	interval time.Duration
	history  string
	showVer  bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.target, "target", "http://localhost:8089", "base URL of the corevm instance to inspect")
	flag.BoolVar(&o.json, "json", false, "print raw JSON instead of a formatted summary")
	flag.BoolVar(&o.watch, "watch", false, "poll repeatedly instead of a single fetch")
	flag.DurationVar(&o.interval, "interval", 2*time.Second, "poll interval when -watch is set")
	flag.StringVar(&o.history, "history", "", "persist every fetched snapshot into a Badger database at this path")
	flag.BoolVar(&o.showVer, "version", false, "print version and exit")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()
	if opts.showVer {
		fmt.Println(version)
		return
	}

	var hist *historyStore
	if opts.history != "" {
		h, err := openHistoryStore(opts.history)
		if err != nil {
			fatal(err)
		}
		defer h.Close()
		hist = h
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts, hist); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts, hist); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options, hist *historyStore) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}
	if hist != nil {
		if err := hist.put(snap); err != nil {
			fmt.Fprintln(os.Stderr, "history write failed:", err)
		}
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/corevm/snapshot"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Seq:          %v\n", data["seq_number"])
	fmt.Printf("GC Seq:       %v\n", data["gc_seq_number"])
	fmt.Printf("Live threads: %v\n", data["live_threads"])
	fmt.Printf("Interned(0):  %v\n", data["interned_arity_0"])
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "corevm-inspect:", err)
	os.Exit(1)
}

/* -------------------------------------------------------------------------
   History store — a thin Badger-backed ring of fetched snapshots, keyed by
   fetch time so -watch runs accumulate a queryable trend.
   ------------------------------------------------------------------------- */

type historyStore struct {
	db *badger.DB
}

func openHistoryStore(path string) (*historyStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	return &historyStore{db: db}, nil
}

func (h *historyStore) put(snap map[string]any) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(time.Now().UnixNano()))
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key[:], body)
	})
}

func (h *historyStore) Close() error {
	return h.db.Close()
}
