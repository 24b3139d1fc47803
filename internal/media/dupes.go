package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/pkg/logging"
)

// secondaryMediaDirs hold copies of media that also live under tweet media
var secondaryMediaDirs = []string{"/direct_message_media/", "/moments_tweets_media/"}

// DupePlan describes how to collapse media saved under several record ids
type DupePlan struct {
	// Groups maps a media key to every path carrying it, for keys seen more than once
	Groups map[string][]string
	// Renames maps a kept path to its new "{key}.{ext}" path
	Renames map[string]string
	Deletes []string
}

// PlanDupes groups "{record_id}-{key}.{ext}" files by key. For each key seen
// more than once, copies under secondary media directories go first, the
// first remaining copy is kept and renamed to "{key}.{ext}", and the rest
// are deleted.
func PlanDupes(paths []string) DupePlan {
	type entry struct{ path, target string }
	byKey := map[string][]entry{}
	for _, p := range paths {
		name := filepath.Base(p)
		_, key, ext, ok := SplitPrefixed(name)
		if !ok {
			continue
		}
		byKey[key] = append(byKey[key], entry{path: p, target: key + "." + ext})
	}

	plan := DupePlan{Groups: map[string][]string{}, Renames: map[string]string{}}
	for key, entries := range byKey {
		if len(entries) < 2 {
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })
		for _, e := range entries {
			plan.Groups[key] = append(plan.Groups[key], e.path)
		}

		var remaining []entry
		for _, e := range entries {
			if inSecondaryDir(e.path) {
				plan.Deletes = append(plan.Deletes, e.path)
				continue
			}
			remaining = append(remaining, e)
		}
		if len(remaining) == 0 {
			continue
		}
		keep := remaining[0]
		plan.Renames[keep.path] = filepath.Join(filepath.Dir(keep.path), keep.target)
		for _, e := range remaining[1:] {
			plan.Deletes = append(plan.Deletes, e.path)
		}
	}
	sort.Strings(plan.Deletes)
	return plan
}

func inSecondaryDir(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, dir := range secondaryMediaDirs {
		if strings.Contains(slashed, dir) {
			return true
		}
	}
	return false
}

// Apply performs the renames and deletions, collecting every failure. In
// dry-run mode it only logs what would happen.
func (p DupePlan) Apply(dryRun bool) error {
	logger := logging.WithComponent("dupes")

	from := make([]string, 0, len(p.Renames))
	for f := range p.Renames {
		from = append(from, f)
	}
	sort.Strings(from)

	var err error
	for _, f := range from {
		to := p.Renames[f]
		if dryRun {
			logger.Info("Would rename", zap.String("from", f), zap.String("to", to))
			continue
		}
		if rnErr := os.Rename(f, to); rnErr != nil {
			err = multierr.Append(err, fmt.Errorf("error renaming file %s => %s: %w", f, to, rnErr))
			continue
		}
		logger.Info("Renamed", zap.String("from", f), zap.String("to", to))
	}

	for _, d := range p.Deletes {
		if dryRun {
			logger.Info("Would delete", zap.String("path", d))
		}
	}
	if _, rmErr := Remove(p.Deletes, dryRun); rmErr != nil {
		err = multierr.Append(err, rmErr)
	}
	return err
}
