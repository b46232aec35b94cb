package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"mediaref/internal/database"
	"mediaref/internal/jobs"
)

// leasePoll is how long to wait when another process holds a job's lease.
const leasePoll = 500 * time.Millisecond

// progress prints job progress. On a terminal it redraws one line;
// otherwise every update is its own line.
type progress struct {
	w     io.Writer
	tty   bool
	drawn bool
	last  string
}

func newProgress(w io.Writer) *progress {
	p := &progress{w: w}
	if f, ok := w.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *progress) update(st *database.JobState) {
	line := fmt.Sprintf("%s %s: %d/%d processed, %d changed, %d errors",
		st.Family, st.Status, st.Processed, st.Total, st.Changed, len(st.Errors))
	if line == p.last {
		return
	}
	p.last = line
	if p.tty {
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		p.drawn = true
		return
	}
	fmt.Fprintln(p.w, line)
}

func (p *progress) finish() {
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}

// driveJob steps a family's job until it stops being active or is paused.
// When another process holds the lease it waits for that chunk instead of
// competing for it.
func driveJob(ctx context.Context, sched *jobs.Scheduler, family string, p *progress) (*database.JobState, error) {
	defer p.finish()
	for {
		st, err := sched.Step(ctx, family)
		if err != nil {
			return nil, err
		}
		p.update(st)
		if !st.Status.Active() || st.Status == database.JobPaused {
			return st, nil
		}
		if st.LeaseOwner != "" && st.LeaseOwner != sched.Owner() {
			select {
			case <-ctx.Done():
				return st, ctx.Err()
			case <-time.After(leasePoll):
			}
		}
	}
}
