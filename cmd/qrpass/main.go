package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"qr-pass/go-backend/internal/app"
	"qr-pass/go-backend/internal/bootstrap/appconfig"
	"qr-pass/go-backend/internal/crypto"
	"qr-pass/go-backend/internal/identity"
	"qr-pass/go-backend/internal/platform/metrics"
	"qr-pass/go-backend/internal/platform/privacylog"
	"qr-pass/go-backend/internal/platform/ratelimiter"
	"qr-pass/go-backend/internal/storage"
)

const (
	exitOK             = 0
	exitInvalidInput   = 10
	exitIdentityFailed = 20
	exitOpenFailed     = 30
	exitStorageFailed  = 40
)

type runner struct {
	cfg     appconfig.Config
	svc     *app.Service
	store   *storage.EnvelopeStore
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "beacon-gen":
		runBeaconGen(os.Args[2:])
	case "response-gen":
		runResponseGen(os.Args[2:])
	case "response-decrypt":
		runResponseDecrypt(os.Args[2:])
	case "receive":
		runReceive(os.Args[2:])
	case "inbox":
		runInbox(os.Args[2:])
	case "pending":
		runPending(os.Args[2:])
	case "encounters":
		runEncounters(os.Args[2:])
	case "envelopes":
		runEnvelopes(os.Args[2:])
	case "delivered":
		runDelivered(os.Args[2:])
	case "backup":
		runBackup(os.Args[2:])
	case "restore":
		runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config yaml (default configs/qrpass.yaml)")
	return fs, configPath
}

func setup(configPath string) *runner {
	cfg, err := appconfig.LoadFromPath(configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	logger := privacylog.NewLogger(os.Stderr, slog.LevelInfo)

	identities, err := identity.NewManager(identity.Config{
		KeyPath:         cfg.KeyPath,
		PublicationPath: cfg.PublicationPath,
		Passphrase:      cfg.IdentityPassphrase,
	})
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	var store *storage.EnvelopeStore
	switch {
	case cfg.StorePath == "":
	case cfg.StoreDriver == appconfig.StoreDriverBolt:
		store, err = storage.NewBoltEnvelopeStore(cfg.StorePath)
	default:
		store, err = storage.NewPersistentEnvelopeStore(cfg.StorePath, cfg.StorePassphrase)
	}
	if err != nil {
		writeStderrln(err.Error(), exitStorageFailed)
	}
	recorder := metrics.New()
	svc, err := app.NewService(app.Options{
		Identities:  identities,
		Store:       store,
		MessagesDir: cfg.MessagesDir,
		Metrics:     recorder,
		Limiter:     ratelimiter.New(cfg.FailuresPerMinute, cfg.FailureBurst, 10*time.Minute),
		Logger:      logger,
	})
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	return &runner{cfg: cfg, svc: svc, store: store, metrics: recorder, logger: logger}
}

// finish flushes metrics, then prints v or reports err with its exit code.
func (r *runner) finish(v any, err error) {
	r.close()
	if err != nil {
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	r.print(v)
	os.Exit(exitOK)
}

// finishPartial prints v even when err is set, for results that already
// changed stored state.
func (r *runner) finishPartial(v any, err error) {
	r.close()
	r.print(v)
	if err != nil {
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	os.Exit(exitOK)
}

func (r *runner) close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("envelope store close failed", "error", err.Error())
		}
	}
	if err := r.metrics.WriteTextfile(r.cfg.MetricsTextfile); err != nil {
		r.logger.Warn("metrics textfile write failed", "error", err.Error())
	}
}

func (r *runner) print(v any) {
	if err := printJSON(v); err != nil {
		writeStderrln(err.Error(), exitStorageFailed)
	}
}

func runBeaconGen(args []string) {
	fs, configPath := newFlagSet("beacon-gen")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	rt := setup(*configPath)
	rt.finish(rt.svc.InitBeacon())
}

func runResponseGen(args []string) {
	fs, configPath := newFlagSet("response-gen")
	beacon := fs.String("beacon", "", "path to the scanned beacon record {\"epkA\": ...}")
	note := fs.String("msg", "", "message note")
	sender := fs.String("expeditor", "", "sender name")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*beacon) == "" {
		writeStderrln("beacon is required", exitInvalidInput)
	}
	record := readInput(*beacon)
	rt := setup(*configPath)
	rt.finish(rt.svc.PrepareMessage(record, *sender, *note))
}

func runResponseDecrypt(args []string) {
	fs, configPath := newFlagSet("response-decrypt")
	response := fs.String("response", "", "path to the scanned response record, - for stdin")
	source := fs.String("source", "cli", "capture source name used for failure throttling")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*response) == "" {
		writeStderrln("response is required", exitInvalidInput)
	}
	raw := readInput(*response)
	rt := setup(*configPath)
	rt.finish(rt.svc.OpenMessage(*source, raw))
}

func runReceive(args []string) {
	fs, configPath := newFlagSet("receive")
	response := fs.String("response", "", "path to the delivered response record, - for stdin")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*response) == "" {
		writeStderrln("response is required", exitInvalidInput)
	}
	raw := readInput(*response)
	rt := setup(*configPath)
	id, err := rt.svc.ReceiveEnvelope(raw)
	rt.finish(map[string]any{"id": id}, err)
}

func runInbox(args []string) {
	fs, configPath := newFlagSet("inbox")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	rt := setup(*configPath)
	rt.finishPartial(rt.svc.DrainInbox())
}

func runEncounters(args []string) {
	fs, configPath := newFlagSet("encounters")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	rt := setup(*configPath)
	rt.finish(rt.svc.Encounters())
}

func runEnvelopes(args []string) {
	fs, configPath := newFlagSet("envelopes")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	rt := setup(*configPath)
	rt.finish(rt.svc.Envelopes())
}

func runPending(args []string) {
	fs, configPath := newFlagSet("pending")
	peer := fs.String("peer", "", "peer id hash of the beacon")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*peer) == "" {
		writeStderrln("peer is required", exitInvalidInput)
	}
	rt := setup(*configPath)
	rt.finish(rt.svc.PendingFor(*peer))
}

func runDelivered(args []string) {
	fs, configPath := newFlagSet("delivered")
	id := fs.String("id", "", "stored envelope id")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*id) == "" {
		writeStderrln("id is required", exitInvalidInput)
	}
	rt := setup(*configPath)
	err := rt.svc.MarkDelivered(*id)
	rt.finish(map[string]any{"id": *id, "delivered": err == nil}, err)
}

func runBackup(args []string) {
	fs, configPath := newFlagSet("backup")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	rt := setup(*configPath)
	words, err := rt.svc.ExportBackup()
	rt.finish(map[string]any{"mnemonic": words}, err)
}

func runRestore(args []string) {
	fs, configPath := newFlagSet("restore")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	// The phrase is read from stdin so it never shows up in the process list.
	words := readInput("-")
	rt := setup(*configPath)
	rt.finish(rt.svc.RestoreBackup(string(words)))
}

func readInput(path string) []byte {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	return data
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, crypto.ErrAuthenticationFailed),
		errors.Is(err, crypto.ErrMalformedPayload),
		errors.Is(err, app.ErrThrottled):
		return exitOpenFailed
	case errors.Is(err, identity.ErrStorage),
		errors.Is(err, storage.ErrPersist),
		errors.Is(err, storage.ErrEnvelopeIDConflict),
		errors.Is(err, app.ErrStaging),
		errors.Is(err, app.ErrStoreDisabled):
		return exitStorageFailed
	case errors.Is(err, identity.ErrIdentityNotFound),
		errors.Is(err, identity.ErrInvalidPassphrase),
		errors.Is(err, identity.ErrPassphraseRequired),
		errors.Is(err, identity.ErrPassphraseLocked),
		errors.Is(err, crypto.ErrEntropyUnavailable):
		return exitIdentityFailed
	default:
		return exitInvalidInput
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	writeStdoutln(exitInvalidInput, "qrpass <command> [--config path] [flags]")
	writeStdoutln(exitInvalidInput, "commands:")
	writeStdoutln(exitInvalidInput, "  beacon-gen")
	writeStdoutln(exitInvalidInput, "  response-gen      --beacon <path> --msg <note> --expeditor <name>")
	writeStdoutln(exitInvalidInput, "  response-decrypt  --response <path|-> [--source name]")
	writeStdoutln(exitInvalidInput, "  receive           --response <path|->")
	writeStdoutln(exitInvalidInput, "  inbox")
	writeStdoutln(exitInvalidInput, "  pending           --peer <peer id hash>")
	writeStdoutln(exitInvalidInput, "  encounters")
	writeStdoutln(exitInvalidInput, "  envelopes")
	writeStdoutln(exitInvalidInput, "  delivered         --id <envelope id>")
	writeStdoutln(exitInvalidInput, "  backup")
	writeStdoutln(exitInvalidInput, "  restore           (mnemonic on stdin)")
}

func writeStdoutln(exitCode int, line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(exitCode)
	}
}

func writeStderrln(line string, exitCode int) {
	if _, err := fmt.Fprintln(os.Stderr, line); err != nil {
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}
