// Command coresync-apply is a diagnostic tool: it replays a captured
// server message log against a fresh Realm file so a reported sync issue
// can be reproduced locally, without a live server connection
// (spec.md §6 "CLI surface").
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/meridiandb/coresync/pkg/bootstrap"
	"github.com/meridiandb/coresync/pkg/dbengine/boltengine"
	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/pendingerror"
	"github.com/meridiandb/coresync/pkg/protocolerror"
	"github.com/meridiandb/coresync/pkg/subscription"
	"github.com/meridiandb/coresync/pkg/synclog"
	"github.com/meridiandb/coresync/pkg/txn"
	"github.com/meridiandb/coresync/pkg/wire"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coresync-apply: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coresync-apply",
	Short: "Replay a captured sync message log onto a fresh Realm file",
	Long: `coresync-apply reads a message-log capture (BIND/IDENT/DOWNLOAD/
UPLOAD frames in the same wire format exchanged with a live sync server)
and integrates every DOWNLOAD it contains into a fresh Realm file, so a
reported divergence can be reproduced offline.`,
	RunE: runApply,
}

func init() {
	rootCmd.Flags().StringP("realm", "r", "", "Realm file to create and apply changesets to")
	rootCmd.Flags().StringP("input", "i", "", "Captured message log to replay")
	rootCmd.Flags().StringP("encryption-key", "e", "", "Path to a Realm encryption key file")
	rootCmd.Flags().BoolP("flx", "f", false, "Treat the log as flexible-sync subscription traffic")
	rootCmd.Flags().BoolP("verbose", "v", false, "Log each replayed frame")
	rootCmd.Flags().String("config", "", "YAML manifest supplying defaults for the flags above")
}

// boltTxHolder is satisfied by boltengine.Transaction. txn.Transaction
// deliberately hides it behind the generic dbengine.Transaction interface;
// recovering it here is how this command folds a history/bootstrap write
// into the very same bbolt commit as the object writes the dbengine
// transaction makes, rather than committing them as two separate files or
// two separate bbolt transactions (spec.md §6, Property 4).
type boltTxHolder interface {
	BoltTx() (*bolt.Tx, bool)
}

func sharedBoltTx(tr *txn.Transaction) (*bolt.Tx, error) {
	holder, ok := tr.Inner().(boltTxHolder)
	if !ok {
		return nil, errors.New("coresync-apply: underlying transaction does not expose a shared bbolt handle")
	}
	tx, writable := holder.BoltTx()
	if !writable {
		return nil, errors.New("coresync-apply: underlying transaction is not in the writing stage")
	}
	return tx, nil
}

func runApply(cmd *cobra.Command, _ []string) error {
	realmPath, _ := cmd.Flags().GetString("realm")
	inputPath, _ := cmd.Flags().GetString("input")
	keyPath, _ := cmd.Flags().GetString("encryption-key")
	flx, _ := cmd.Flags().GetBool("flx")
	verbose, _ := cmd.Flags().GetBool("verbose")
	configPath, _ := cmd.Flags().GetString("config")

	if configPath != "" {
		manifest, err := loadReplayManifest(configPath)
		if err != nil {
			return err
		}
		applyManifestDefaults(manifest, &realmPath, &inputPath, &keyPath, &flx, &verbose)
	}
	if realmPath == "" {
		return fmt.Errorf("-r/--realm is required (directly or via --config)")
	}
	if inputPath == "" {
		return fmt.Errorf("-i/--input is required (directly or via --config)")
	}

	synclog.Init(synclog.Config{Level: synclog.InfoLevel})
	if verbose {
		synclog.Init(synclog.Config{Level: synclog.DebugLevel})
	}
	log := synclog.WithComponent("coresync-apply")

	if keyPath != "" {
		if _, err := os.Stat(keyPath); err != nil {
			return fmt.Errorf("read encryption key %s: %w", keyPath, err)
		}
		log.Warn().Str("key_file", keyPath).Msg("boltengine does not support at-rest encryption; continuing without it")
	}

	db, err := boltengine.Open(realmPath)
	if err != nil {
		return fmt.Errorf("open realm file: %w", err)
	}
	defer db.Close()

	// history, bootstrap, pending-error and subscription state all live as
	// dedicated buckets inside the same bbolt file as the object data
	// (spec.md §6), not in separate files of their own.
	boltDB := db.Bolt()

	hist, err := history.Open(boltDB)
	if err != nil {
		return fmt.Errorf("open replication history: %w", err)
	}
	defer hist.Close()

	boot, err := bootstrap.Open(boltDB)
	if err != nil {
		return fmt.Errorf("open pending-bootstrap store: %w", err)
	}
	defer boot.Close()

	perr, err := pendingerror.Open(boltDB)
	if err != nil {
		return fmt.Errorf("open pending-error store: %w", err)
	}
	defer perr.Close()

	subs, err := subscription.Open(boltDB)
	if err != nil {
		return fmt.Errorf("open subscription store: %w", err)
	}
	defer subs.Close()

	set, err := subs.MakeMutableCopy()
	if err != nil {
		return fmt.Errorf("create subscription set for this replay: %w", err)
	}
	if err := subs.Commit(set.Version); err != nil {
		return fmt.Errorf("commit subscription set: %w", err)
	}
	if err := subs.SetState(set.Version, subscription.Bootstrapping); err != nil {
		return fmt.Errorf("mark subscription set bootstrapping: %w", err)
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input log: %w", err)
	}
	defer in.Close()

	tr := txn.New(db)
	if err := tr.BeginRead(context.Background(), nil); err != nil {
		return fmt.Errorf("begin read: %w", err)
	}

	transformer := identityTransformer{}

	reader := bufio.NewReader(in)
	var frames, downloads, changesets, resolvedErrors int
	var lastClientVersion uint64
	for {
		frame, err := readFrame(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", frames, err)
		}
		frames++

		msg, err := wire.Decode(frame)
		if err != nil {
			return fmt.Errorf("parse frame %d: %w", frames, err)
		}
		if verbose {
			log.Debug().Str("leader", msg.Leader()).Int("frame", frames).Msg("replaying frame")
		}

		dl, ok := msg.(*wire.Download)
		if !ok {
			continue
		}
		if len(dl.Changesets) == 0 {
			log.Debug().Int("frame", frames).Msg("empty download, skipping")
			continue
		}

		info, err := applyDownload(tr, hist, boot, &transformer, flx, frames, dl)
		if err != nil {
			var exc *protocolerror.IntegrationException
			if flx && errors.As(err, &exc) {
				// A remote changeset this client can't yet integrate is
				// deferred rather than aborting the whole bootstrap replay —
				// it becomes live again once the server's version catches
				// up far enough that a later IDENT/DOWNLOAD round trip
				// would naturally re-send it (spec.md §4.I).
				if addErr := perr.Add(pendingerror.PendingError{
					PendingUntilServerVersion: dl.Progress.LatestServerVersion.ServerVersion + 1,
					Code:                      int(exc.Code),
					Message:                   exc.Error(),
				}); addErr != nil {
					return fmt.Errorf("record pending error at frame %d: %w", frames, addErr)
				}
				log.Warn().Int("frame", frames).Str("code", exc.Code.String()).Msg("deferred download as a pending error")
				continue
			}
			_ = subs.SetState(set.Version, subscription.Error)
			return fmt.Errorf("integrate download at frame %d: %w", frames, err)
		}

		downloads++
		changesets += len(dl.Changesets)
		lastClientVersion = info.ClientVersion

		removed, rerr := perr.RemovePendingErrors(dl.Progress.LatestServerVersion.ServerVersion)
		if rerr != nil {
			return fmt.Errorf("drain resolved pending errors at frame %d: %w", frames, rerr)
		}
		resolvedErrors += removed
	}

	if err := subs.SetState(set.Version, subscription.AwaitingMark); err != nil {
		return fmt.Errorf("mark subscription set awaiting_mark: %w", err)
	}
	if err := subs.SetState(set.Version, subscription.Complete); err != nil {
		return fmt.Errorf("mark subscription set complete: %w", err)
	}

	fmt.Fprintf(os.Stdout, "applied %d changeset(s) from %d download(s) across %d frame(s); history is now at client version %d (resolved %d pending error(s))\n",
		changesets, downloads, frames, lastClientVersion, resolvedErrors)
	return nil
}

// applyDownload folds one DOWNLOAD frame's integration into a single bbolt
// commit: in direct mode that's the history entry plus the object writes
// the Applier makes; in FLX mode the batch is staged through the
// pending-bootstrap store first so a crash mid-bootstrap resumes from
// exactly the last popped batch (spec.md §4.H, Property 4), then the
// pending batch — not just this frame — is integrated and popped in the
// same commit.
func applyDownload(tr *txn.Transaction, hist *history.ClientHistory, boot *bootstrap.Store, transformer history.Transformer, flx bool, frame int, dl *wire.Download) (history.VersionInfo, error) {
	applier := &replayApplier{tr: tr}

	if !flx {
		if err := tr.PromoteToWrite(nil); err != nil {
			return history.VersionInfo{}, fmt.Errorf("promote to write at frame %d: %w", frame, err)
		}
		boltTx, err := sharedBoltTx(tr)
		if err != nil {
			_ = tr.RollbackAndContinueAsRead(nil)
			return history.VersionInfo{}, err
		}
		info, _, err := hist.IntegrateServerChangesetsTx(boltTx, dl.Progress, dl.DownloadableBytes, dl.Changesets, history.LastInBatch, transformer, applier)
		if err != nil {
			_ = tr.RollbackAndContinueAsRead(nil)
			return history.VersionInfo{}, err
		}
		if _, err := tr.CommitAndContinueAsRead(); err != nil {
			return history.VersionInfo{}, fmt.Errorf("commit frame %d: %w", frame, err)
		}
		return info, nil
	}

	// FLX: stage this download's changesets as a pending bootstrap batch,
	// keyed by the session the changesets arrived on, then drain whatever
	// is currently pending (which may span more than just this frame, if an
	// earlier frame's pop never happened).
	if err := boot.AddBatch(int64(dl.SessionIdent), &dl.Progress, dl.DownloadableBytes, dl.Changesets); err != nil {
		return history.VersionInfo{}, fmt.Errorf("stage pending bootstrap batch at frame %d: %w", frame, err)
	}
	pending, err := boot.PeekPending(math.MaxInt)
	if err != nil {
		return history.VersionInfo{}, fmt.Errorf("peek pending bootstrap at frame %d: %w", frame, err)
	}

	if err := tr.PromoteToWrite(nil); err != nil {
		return history.VersionInfo{}, fmt.Errorf("promote to write at frame %d: %w", frame, err)
	}
	boltTx, err := sharedBoltTx(tr)
	if err != nil {
		_ = tr.RollbackAndContinueAsRead(nil)
		return history.VersionInfo{}, err
	}
	info, _, err := hist.IntegrateServerChangesetsTx(boltTx, dl.Progress, dl.DownloadableBytes, pending.Changesets, history.LastInBatch, transformer, applier)
	if err != nil {
		_ = tr.RollbackAndContinueAsRead(nil)
		return history.VersionInfo{}, err
	}
	if err := boot.PopFrontPendingTx(boltTx, len(pending.Changesets)); err != nil {
		_ = tr.RollbackAndContinueAsRead(nil)
		return history.VersionInfo{}, fmt.Errorf("pop pending bootstrap batch at frame %d: %w", frame, err)
	}
	if _, err := tr.CommitAndContinueAsRead(); err != nil {
		return history.VersionInfo{}, fmt.Errorf("commit frame %d: %w", frame, err)
	}
	return info, nil
}

// readFrame reads one uint32-length-prefixed frame, the capture format this
// tool expects -i/--input to be in: wire.Decode takes a single message's
// bytes at a time and has no framing of its own for a multi-message file.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("short frame body: %w", err)
	}
	return buf, nil
}
