package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shx-go/internal/model"
	"shx-go/internal/shx"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitBadQuery    = 2
	exitCorrupt     = 3
	exitPersistence = 4
	exitNothingDone = 5
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var qe *model.QueryParseError
	var ce *model.CorruptStoreError
	var pe *model.PersistenceError
	switch {
	case errors.As(err, &qe):
		return exitBadQuery
	case errors.As(err, &ce):
		return exitCorrupt
	case errors.As(err, &pe):
		return exitPersistence
	case errors.Is(err, model.ErrNothingProcessed):
		return exitNothingDone
	default:
		return exitFailure
	}
}

// printer writes results to stdout and problems to stderr, showing paths
// relative to the working directory where that is shorter.
type printer struct {
	stdout io.Writer
	stderr io.Writer
	cwd    string
}

func newPrinter(cmd *cobra.Command) *printer {
	cwd, _ := os.Getwd()
	return &printer{stdout: cmd.OutOrStdout(), stderr: cmd.ErrOrStderr(), cwd: cwd}
}

func (p *printer) out(format string, args ...any) {
	fmt.Fprintf(p.stdout, format, args...)
}

func (p *printer) path(abs string) string {
	return displayPath(abs, p.cwd)
}

func displayPath(abs, cwd string) string {
	if cwd == "" || !filepath.IsAbs(abs) {
		return abs
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return rel
}

func (p *printer) problems(errs []error) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(p.stderr, "%d %s:\n", len(errs), plural(len(errs), "problem", "problems"))
	for _, err := range errs {
		fmt.Fprintf(p.stderr, "  %v\n", err)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func bytesOf(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func printDedup(p *printer, r *shx.DedupReport) {
	deleted := make(map[string]bool, len(r.Deleted))
	for _, f := range r.Deleted {
		deleted[f.AbsPath] = true
	}

	for i, g := range r.Groups {
		p.out("Group %d: %d files of %s, %s reclaimable\n",
			i+1, len(g.Members), bytesOf(g.Fingerprint.Size), bytesOf(g.ReclaimableBytes()))
		p.out("  keep    %s\n", p.path(g.Survivor().AbsPath))
		for _, m := range g.Redundant() {
			var verb string
			switch {
			case r.DryRun:
				verb = "would delete"
			case deleted[m.AbsPath]:
				verb = "deleted"
			default:
				verb = "kept"
			}
			p.out("  %-7s %s\n", verb, p.path(m.AbsPath))
		}
	}
	for _, sk := range r.Skipped {
		p.out("Skipped group kept by %s: %s\n", p.path(sk.Group.Survivor().AbsPath), sk.Reason)
	}

	p.out("\n%s considered, %d duplicate %s",
		humanize.Comma(int64(r.Considered)), len(r.Groups), plural(len(r.Groups), "group", "groups"))
	if r.HardLinks > 0 {
		p.out(", %d hard %s ignored", r.HardLinks, plural(r.HardLinks, "link", "links"))
	}
	p.out("\n")
	if r.DryRun {
		p.out("Dry run: %s reclaimable, nothing deleted\n", bytesOf(r.Reclaimable))
	} else {
		p.out("Deleted %d %s, reclaimed %s", len(r.Deleted), plural(len(r.Deleted), "file", "files"), bytesOf(r.Reclaimed))
		if r.TagsCarried > 0 {
			p.out(", tags carried from %d", r.TagsCarried)
		}
		p.out("\n")
	}
	p.problems(r.Problems)
}

func printTags(p *printer, r *shx.TagReport) {
	for _, rec := range r.Files {
		tags := "(no tags)"
		if len(rec.Tags) > 0 {
			tags = strings.Join(rec.Tags, ", ")
		}
		p.out("%s: %s\n", p.path(rec.Identity.AbsPath), tags)
	}
	p.problems(r.Problems)
}

func printSearch(p *printer, r *shx.SearchReport, long bool) {
	for _, m := range r.Matches {
		if !long {
			p.out("%s\n", p.path(m.Identity.AbsPath))
			continue
		}
		p.out("%9s  %s  %-8s  %s",
			bytesOf(m.Identity.Size),
			m.Identity.ModTime.Format("2006-01-02"),
			model.KindOf(m.Identity.Ext()),
			p.path(m.Identity.AbsPath))
		if len(m.Tags) > 0 {
			p.out("  [%s]", strings.Join(m.Tags, ", "))
		}
		p.out("\n")
	}
	if long {
		p.out("%d of %s %s matched\n", len(r.Matches), humanize.Comma(int64(r.Scanned)), plural(r.Scanned, "file", "files"))
	}
	p.problems(r.Problems)
}

func formatMood(m model.Mood) string {
	if m.Name == "" {
		return m.Value
	}
	return fmt.Sprintf("%s (%s)", m.Value, m.Name)
}

func printMoods(p *printer, r *shx.MoodReport) {
	if len(r.Entries) == 0 {
		p.out("No mood set\n")
	}
	for _, e := range r.Entries {
		p.out("%s: %s", p.path(e.Folder.AbsPath), formatMood(e.Mood))
		if e.Inherited() {
			p.out(" (from %s)", p.path(e.Source.AbsPath))
		}
		p.out("\n")
	}
	p.problems(r.Problems)
}

func printPrune(p *printer, r *shx.PruneReport) {
	p.out("Checked %d %s under %s, dropped %d orphaned %s\n",
		r.Reconciled, plural(r.Reconciled, "entry", "entries"), p.path(r.Root),
		len(r.Dropped), plural(len(r.Dropped), "record", "records"))
	for _, key := range r.Dropped {
		p.out("  %s\n", key)
	}
	if r.CachePruned > 0 {
		p.out("Dropped %s stale cached %s\n", humanize.Comma(r.CachePruned), plural(int(r.CachePruned), "digest", "digests"))
	}
	p.problems(r.Problems)
}

func promptPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("a passphrase is required but stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func promptNewPassphrase() (string, error) {
	first, err := promptPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	second, err := promptPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passphrases do not match")
	}
	return first, nil
}
