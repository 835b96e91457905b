// Command tako mirrors signed, versioned image blobs from a remote origin
// into a local content-addressed store, and publishes new versions into one.
package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/takodist/tako/internal/cli"
	"github.com/takodist/tako/internal/clock"
	"github.com/takodist/tako/internal/codec"
	"github.com/takodist/tako/internal/config"
	"github.com/takodist/tako/internal/errs"
	"github.com/takodist/tako/internal/fetch"
	"github.com/takodist/tako/internal/history"
	"github.com/takodist/tako/internal/keygen"
	"github.com/takodist/tako/internal/logging"
	"github.com/takodist/tako/internal/manifest"
	"github.com/takodist/tako/internal/metrics"
	"github.com/takodist/tako/internal/notify"
	"github.com/takodist/tako/internal/publish"
	"github.com/takodist/tako/internal/schedule"
	"github.com/takodist/tako/internal/store"
	"github.com/takodist/tako/internal/transport"
	"github.com/takodist/tako/internal/version"
)

// tookVersion and commit are set at build time via ldflags:
//
//	-X main.tookVersion=$(VERSION) -X main.commit=$(COMMIT)
var tookVersion = "dev"
var commit = "unknown"

func versionString() string {
	if commit != "" && commit != "unknown" {
		return tookVersion + " (" + commit + ")"
	}
	return tookVersion
}

const usage = `tako: signed, versioned image distribution

Usage:
  tako fetch [--init] [--watch <cron-expr>] [--metrics <path>] [--] <config>...
  tako store [-k <key> | -f <keyfile>] -o <dir> [--] <image> <version>
  tako store list -o <dir>
  tako history [-o <dir>] [-n <count>]
  tako gen-key
  tako -h|--help [<command>]
  tako --version

History is recorded at $TAKO_STATE_DIR/history.db if TAKO_STATE_DIR is set,
else at <dir>/.tako-history.db.
`

func main() {
	log := logging.New(os.Getenv("TAKO_LOG_JSON") != "")
	os.Exit(run(os.Args[1:], log))
}

func run(args []string, log *logging.Logger) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	switch args[0] {
	case "-h", "--help":
		fmt.Print(usage)
		return 0
	case "--version":
		fmt.Println("tako " + versionString())
		return 0
	case "fetch":
		return runFetch(args[1:], log)
	case "store":
		return runStore(args[1:], log)
	case "history":
		return runHistory(args[1:])
	case "gen-key":
		return runGenKey()
	default:
		fmt.Fprintf(os.Stderr, "unrecognized command %q\n\n%s", args[0], usage)
		return 1
	}
}

func runGenKey() int {
	kp, err := keygen.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gen-key: %v\n", err)
		return 1
	}
	fmt.Printf("PublicKey=%s\n", kp.PublicKeyBase64)
	fmt.Printf("%s\n", kp.SecretKeyText)
	return 0
}

var fetchFlags = []cli.FlagDef{
	{Long: "init", HasValue: false},
	{Long: "watch", HasValue: true},
	{Long: "metrics", HasValue: true},
}

func runFetch(args []string, log *logging.Logger) int {
	parsed, err := cli.Parse(args, fetchFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}
	if parsed.Help {
		fmt.Println(usage)
		return 0
	}
	if len(parsed.Positional) == 0 {
		fmt.Fprintln(os.Stderr, "fetch: at least one config file is required")
		return 1
	}

	notifier := buildNotifier(log)
	httpTransport := transport.New(transport.NewDefaultClient())

	runAll := func(ctx context.Context) error {
		var firstErr error
		for _, path := range parsed.Positional {
			if err := runOneFetch(ctx, path, parsed.Set("init"), httpTransport, log, notifier); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var runErr error
	if cronExpr, ok := parsed.Values["watch"]; ok {
		sched, err := schedule.New(cronExpr, runAll, log, clock.Real{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch: invalid --watch expression: %v\n", err)
			return 1
		}
		runErr = sched.Run(ctx)
	} else {
		runErr = runAll(ctx)
	}

	if metricsPath, ok := parsed.Values["metrics"]; ok {
		if err := metrics.WriteTextfile(metricsPath); err != nil {
			log.Error("failed to write metrics textfile", "path", metricsPath, "error", err)
		}
	}

	return exitCodeFor(runErr)
}

func runOneFetch(ctx context.Context, path string, initMode bool, tr fetch.Transport, log *logging.Logger, notifier *notify.Multi) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error("failed to read config", "path", path, "error", err)
		return err
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		log.Error("invalid config", "path", path, "error", err)
		return err
	}

	// The history database lives under the destination itself unless
	// TAKO_STATE_DIR overrides it, so it can only be opened once cfg's
	// destination is known.
	hist := openHistoryFor(log, cfg.Destination)
	if hist != nil {
		defer hist.Close()
	}

	if initMode {
		s, err := store.Open(cfg.Destination)
		if err == nil {
			if _, valid, _ := s.LatestValid(); valid {
				log.Info("skipping destination already populated under --init", "destination", cfg.Destination)
				return nil
			}
		}
	}

	start := time.Now()
	result, runErr := fetch.Run(ctx, cfg, tr, hist)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	outcome := history.OutcomeSuccess
	event := notify.Event{Origin: cfg.Origin, Destination: cfg.Destination, Timestamp: time.Now()}

	switch {
	case errors.Is(runErr, errs.ErrNoCandidate):
		outcome = history.OutcomeNoCandidate
		event.Type = notify.EventFetchNoCandidate
		log.Info("no candidate version found", "config", path, "origin", cfg.Origin)
		metrics.FetchesTotal.WithLabelValues("no_candidate").Inc()
	case runErr != nil:
		outcome = history.OutcomeFailed
		event.Type = notify.EventFetchFailed
		event.Error = runErr.Error()
		log.Error("fetch failed", "config", path, "error", runErr)
		metrics.FetchesTotal.WithLabelValues("failed").Inc()
		var dlErr *errs.DownloadError
		var sizeErr *errs.InvalidSize
		var digestErr *errs.InvalidDigest
		switch {
		case errors.As(runErr, &dlErr):
			metrics.DownloadErrors.WithLabelValues("transport").Inc()
		case errors.As(runErr, &sizeErr):
			metrics.DownloadErrors.WithLabelValues("size").Inc()
		case errors.As(runErr, &digestErr):
			metrics.DownloadErrors.WithLabelValues("digest").Inc()
		}
	default:
		event.Type = notify.EventFetchSucceeded
		event.Version = result.Selected.Version.String()
		event.Digest = result.Selected.Digest.String()
		log.Info("fetch succeeded", "config", path, "version", event.Version, "downloaded", result.Downloaded)
		metrics.FetchesTotal.WithLabelValues("success").Inc()
	}

	if hist != nil {
		_ = hist.Record(history.Record{
			Timestamp: time.Now(),
			Operation: "fetch",
			Origin:    cfg.Origin,
			Version:   event.Version,
			Digest:    event.Digest,
			Outcome:   outcome,
			Error:     event.Error,
		})
	}
	if notifier != nil {
		notifier.Notify(ctx, event)
	}

	if errors.Is(runErr, errs.ErrNoCandidate) {
		return nil
	}
	return runErr
}

var storeFlags = []cli.FlagDef{
	{Long: "key", Short: 'k', HasValue: true},
	{Long: "keyfile", Short: 'f', HasValue: true},
	{Long: "out", Short: 'o', HasValue: true},
}

func runStore(args []string, log *logging.Logger) int {
	if len(args) > 0 && args[0] == "list" {
		return runStoreList(args[1:])
	}

	parsed, err := cli.Parse(args, storeFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		return 1
	}
	if parsed.Help {
		fmt.Println(usage)
		return 0
	}
	if len(parsed.Positional) != 2 {
		fmt.Fprintln(os.Stderr, "store: expected exactly <image> <version>")
		return 1
	}
	dir, ok := parsed.Values["out"]
	if !ok {
		fmt.Fprintln(os.Stderr, "store: -o <dir> is required")
		return 1
	}

	secretKey, err := resolveSecretKey(parsed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		return 1
	}

	ver, err := version.Parse(parsed.Positional[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: invalid version %q: %v\n", parsed.Positional[1], err)
		return 1
	}

	hist := openHistoryFor(log, dir)
	if hist != nil {
		defer hist.Close()
	}
	notifier := buildNotifier(log)

	result, err := publish.Run(dir, parsed.Positional[0], ver, secretKey, hist)

	outcome := history.OutcomeSuccess
	event := notify.Event{Destination: dir, Version: ver.String(), Timestamp: time.Now()}
	if err != nil {
		outcome = history.OutcomeFailed
		event.Type = notify.EventPublishFailed
		event.Error = err.Error()
		log.Error("publish failed", "destination", dir, "version", ver.String(), "error", err)
		metrics.PublishesTotal.WithLabelValues("failed").Inc()
	} else {
		event.Type = notify.EventPublishSucceeded
		event.Digest = result.Digest.String()
		log.Info("publish succeeded", "destination", dir, "version", ver.String(), "digest", event.Digest)
		metrics.PublishesTotal.WithLabelValues("success").Inc()
	}
	if hist != nil {
		_ = hist.Record(history.Record{
			Timestamp: time.Now(),
			Operation: "publish",
			Version:   event.Version,
			Digest:    event.Digest,
			Outcome:   outcome,
			Error:     event.Error,
		})
	}
	if notifier != nil {
		notifier.Notify(context.Background(), event)
	}

	return exitCodeFor(err)
}

func runStoreList(args []string) int {
	parsed, err := cli.Parse(args, []cli.FlagDef{{Long: "out", Short: 'o', HasValue: true}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "store list: %v\n", err)
		return 1
	}
	if parsed.Help {
		fmt.Println(usage)
		return 0
	}
	dir, ok := parsed.Values["out"]
	if !ok {
		fmt.Fprintln(os.Stderr, "store list: -o <dir> is required")
		return 1
	}

	pubB64 := os.Getenv("TAKO_PUBLIC_KEY")
	if pubB64 == "" {
		fmt.Fprintln(os.Stderr, "store list: TAKO_PUBLIC_KEY must be set to verify the manifest")
		return 1
	}
	pub, err := decodePublicKey(pubB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store list: %v\n", err)
		return 1
	}

	s, err := store.Open(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store list: %v\n", err)
		return 1
	}
	m, err := s.LoadManifest(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store list: %v\n", err)
		return 1
	}
	if m == nil {
		fmt.Println("(no manifest)")
		return 0
	}
	printManifestEntries(m)
	return 0
}

func printManifestEntries(m *manifest.Manifest) {
	for _, e := range m.Entries() {
		fmt.Printf("%s\t%d\t%s\n", e.Version.String(), e.Length, e.Digest.String())
	}
}

func decodePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := codec.DecodeBase64(b64)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key: expected %d-byte base64 value", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

func resolveSecretKey(parsed cli.ParseResult) (config.SecretKey, error) {
	if v, ok := parsed.Values["key"]; ok {
		return config.ParseSecretKey(v)
	}
	if v, ok := parsed.Values["keyfile"]; ok {
		return config.LoadSecretKeyFile(v)
	}
	if env := os.Getenv("TAKO_SECRET_KEY"); env != "" {
		return config.ParseSecretKey(env)
	}
	return config.SecretKey{}, errors.New("no secret key given: use -k, -f, or TAKO_SECRET_KEY")
}

// historyPathFor resolves where the history database for a given
// destination lives: $TAKO_STATE_DIR/history.db if set (one shared file
// across every destination on the host), else
// <destination>/.tako-history.db, so a single-destination host needs no
// extra configuration.
func historyPathFor(destination string) string {
	if dir := os.Getenv("TAKO_STATE_DIR"); dir != "" {
		return filepath.Join(dir, "history.db")
	}
	return filepath.Join(destination, ".tako-history.db")
}

func openHistoryFor(log *logging.Logger, destination string) *history.DB {
	path := historyPathFor(destination)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Error("failed to create history directory", "path", path, "error", err)
		return nil
	}
	db, err := history.Open(path)
	if err != nil {
		log.Error("failed to open history database", "path", path, "error", err)
		return nil
	}
	return db
}

var historyFlags = []cli.FlagDef{
	{Long: "out", Short: 'o', HasValue: true},
	{Long: "limit", Short: 'n', HasValue: true},
}

func runHistory(args []string) int {
	parsed, err := cli.Parse(args, historyFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		return 1
	}
	if parsed.Help {
		fmt.Println(usage)
		return 0
	}

	dir := parsed.Values["out"]
	if dir == "" && os.Getenv("TAKO_STATE_DIR") == "" {
		fmt.Fprintln(os.Stderr, "history: -o <dir> or TAKO_STATE_DIR is required")
		return 1
	}

	limit := 0
	if v, ok := parsed.Values["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "history: invalid -n %q\n", v)
			return 1
		}
		limit = n
	}

	path := historyPathFor(dir)
	db, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		return 1
	}
	defer db.Close()

	records, err := db.List(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		return 1
	}
	printHistoryRecords(records)
	return 0
}

func printHistoryRecords(records []history.Record) {
	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", r.Timestamp.Format(time.RFC3339), r.Operation, r.Outcome, r.Version, r.Digest)
		if r.Error != "" {
			fmt.Printf("\terror: %s\n", r.Error)
		}
	}
}

func buildNotifier(log *logging.Logger) *notify.Multi {
	var notifiers []notify.Notifier
	notifiers = append(notifiers, notify.NewLogNotifier(log))
	if url := os.Getenv("TAKO_NOTIFY_WEBHOOK"); url != "" {
		notifiers = append(notifiers, notify.NewWebhook(url, nil))
	}
	return notify.NewMulti(log, notifiers...)
}

// exitCodeFor maps a top-level run error to a process exit code.
// NoCandidate is downgraded to informational and exits 0; every other
// non-nil error exits non-zero.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errs.ErrNoCandidate) {
		return 0
	}
	return 1
}
