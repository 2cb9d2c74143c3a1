package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/ihavespoons/ctxai/internal/mcp"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// queryTruncateAt is the number of characters of chunk content printed per
// query result
const queryTruncateAt = 1000

var titleCase = cases.Title(language.English)

// signalContext returns a context cancelled on interrupt or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// progressPrinter renders build progress on stderr. On a terminal it redraws
// a single status line; otherwise it prints one line per phase.
type progressPrinter struct {
	out   io.Writer
	tty   bool
	phase index.Phase
	last  time.Time
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{
		out: os.Stderr,
		tty: term.IsTerminal(int(os.Stderr.Fd())),
	}
}

// Func returns the callback to hand to Build and Update. It is nil in JSON
// mode so nothing but the result reaches the terminal.
func (p *progressPrinter) Func() index.ProgressFunc {
	if jsonOutput {
		return nil
	}
	return p.update
}

func (p *progressPrinter) update(pr index.Progress) {
	name := titleCase.String(string(pr.Phase))

	if !p.tty {
		if pr.Phase != p.phase {
			p.phase = pr.Phase
			fmt.Fprintf(p.out, "%s...\n", name)
		}
		return
	}

	// Redraws are throttled except on phase changes and the final step
	now := time.Now()
	if pr.Phase == p.phase && pr.Done != pr.Total && now.Sub(p.last) < 50*time.Millisecond {
		return
	}
	p.phase = pr.Phase
	p.last = now

	line := name
	if pr.Total > 0 {
		line = fmt.Sprintf("%s %d/%d", name, pr.Done, pr.Total)
	}
	if pr.File != "" {
		line += "  " + pr.File
	}
	if width, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && width > 0 {
		line = clip(line, width-1)
	}
	fmt.Fprintf(p.out, "\r\033[K%s", line)
	if pr.Phase == index.PhaseComplete {
		fmt.Fprint(p.out, "\r\033[K")
	}
}

// Done clears the status line
func (p *progressPrinter) Done() {
	if p.tty && !jsonOutput {
		fmt.Fprint(p.out, "\r\033[K")
	}
}

func clip(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// truncate shortens chunk content for display
func truncate(s string, n int) string {
	return mcp.Truncate(s, n)
}

// sortedCounts returns the keys of counts, largest count first
func sortedCounts(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// printInfo prints a one-line summary of an index
func printInfo(info *index.Info) {
	fmt.Printf("%-20s %-10s %6d files %8d chunks  %s/%s  %s\n",
		info.Name, info.Status, info.Files, info.Chunks, info.Provider, info.Model, info.Root)
}
