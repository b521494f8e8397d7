package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/countdown"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/identity"
	"github.com/stemsi/exstem-session/internal/ledger"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/progress"
	"github.com/stemsi/exstem-session/internal/storage"
	"golang.org/x/term"
)

// attempt is everything stored for one test under a client namespace.
type attempt struct {
	TestID          string                  `json:"test_id"`
	Identity        *model.TestIdentity     `json:"identity,omitempty"`
	IdentityExpired bool                    `json:"identity_expired"`
	Snapshot        *model.ProgressSnapshot `json:"snapshot,omitempty"`
	SnapshotStale   bool                    `json:"snapshot_stale"`
	Submission      *model.SubmissionRecord `json:"submission,omitempty"`
}

func main() {
	var clientID, testID string
	var asJSON bool
	flag.StringVar(&clientID, "client", "", "Client ID whose records to dump (required)")
	flag.StringVar(&testID, "test", "", "Only dump this test ID")
	flag.BoolVar(&asJSON, "json", false, "Print JSON even on a terminal")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if clientID == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	medium := storage.NewNamespaced(storage.NewRedisMedium(rdb, 0), config.CacheKey.ClientNamespace(clientID))
	entries := ledger.NewRedisLedger(rdb, nil, 0, log)

	testIDs := []string{testID}
	if testID == "" {
		if testIDs, err = listTests(ctx, medium); err != nil {
			log.Fatal().Err(err).Msg("Failed to list client records")
		}
	}

	now := time.Now()
	attempts := make([]attempt, 0, len(testIDs))
	for _, id := range testIDs {
		a := attempt{TestID: id}

		if ident, err := identity.Inspect(ctx, medium, id); err == nil {
			a.Identity = ident
			a.IdentityExpired = now.Sub(ident.IssuedAt) >= model.IdentityTTL
			if rec, err := entries.Lookup(ctx, id, ident.AttemptID); err == nil {
				a.Submission = rec
			} else if !errors.Is(err, ledger.ErrNoEntry) {
				log.Warn().Err(err).Str("test_id", id).Msg("Ledger lookup failed")
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("test_id", id).Msg("Unreadable identity")
		}

		if snap, err := progress.Inspect(ctx, medium, id); err == nil {
			a.Snapshot = snap
			a.SnapshotStale = now.Sub(snap.SavedAt) >= model.SnapshotTTL
		} else if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("test_id", id).Msg("Unreadable snapshot")
		}

		attempts = append(attempts, a)
	}

	if asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(attempts); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode output")
		}
		return
	}
	printTable(attempts, now)
}

// listTests derives test IDs from the identity and progress keys of a client.
func listTests(ctx context.Context, medium storage.Medium) ([]string, error) {
	keys, err := medium.Keys(ctx, config.CacheKey.ProgressKey(""))
	if err != nil {
		return nil, err
	}

	identityPrefix := config.CacheKey.IdentityKey("")
	progressPrefix := config.CacheKey.ProgressKey("")
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		id := strings.TrimPrefix(k, progressPrefix)
		if strings.HasPrefix(k, identityPrefix) {
			id = strings.TrimPrefix(k, identityPrefix)
		}
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func printTable(attempts []attempt, now time.Time) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEST\tTAKER\tIDENTITY\tANSWERED\tCURSOR\tTIME LEFT\tSAVED\tSUBMISSION")
	for _, a := range attempts {
		taker, identityState := "-", "none"
		if a.Identity != nil {
			taker = fmt.Sprintf("%s <%s>", a.Identity.FullName, a.Identity.Email)
			identityState = "valid"
			if a.IdentityExpired {
				identityState = "expired"
			}
		}

		answered, cursor, timeLeft, saved := "-", "-", "-", "-"
		if a.Snapshot != nil {
			answered = fmt.Sprint(len(a.Snapshot.Answers))
			cursor = fmt.Sprint(a.Snapshot.CurrentQuestionIndex)
			timeLeft = countdown.Format(time.Duration(a.Snapshot.TimeLeftMs) * time.Millisecond)
			saved = now.Sub(a.Snapshot.SavedAt).Truncate(time.Second).String() + " ago"
			if a.SnapshotStale {
				saved += " (stale)"
			}
		}

		submission := "-"
		if a.Submission != nil {
			submission = a.Submission.SubmissionID
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.TestID, taker, identityState, answered, cursor, timeLeft, saved, submission)
	}
	w.Flush()
}
