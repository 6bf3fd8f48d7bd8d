package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/mote/heap"
	"github.com/chazu/mote/journal"
	"github.com/chazu/mote/manifest"
	"github.com/chazu/mote/vm"
)

// app is one interpreter session with its optional GC journal.
type app struct {
	cfg     *manifest.Manifest
	interp  *vm.Interp
	journal *journal.Journal
	out     io.Writer
	errOut  io.Writer
	log     commonlog.Logger
}

func newApp(cfg *manifest.Manifest, out, errOut io.Writer) (*app, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	in, err := vm.New(append(opts, vm.WithOutput(out))...)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		interp: in,
		out:    out,
		errOut: errOut,
		log:    commonlog.GetLogger("mote.cli"),
	}

	if path := cfg.JournalPath(); path != "" {
		j, err := journal.Open(path, journal.RunInfo{
			Placement: in.Heap().Placement().Name(),
			Capacity:  in.Heap().Capacity(),
		})
		if err != nil {
			return nil, err
		}
		a.journal = j
		in.Collector().OnCycle(j.Observer())
	}
	return a, nil
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Errorf("closing journal: %s", err)
		}
		a.journal = nil
	}
}

// runFile executes a script at global scope.
func (a *app) runFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.runReader(path, f)
}

func (a *app) runReader(name string, r io.Reader) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = a.interp.Run(string(src))
	a.log.Debugf("ran %s in %s", name, time.Since(start))
	return err
}

// eval runs one REPL entry and prints its value unless it is null.
func (a *app) eval(src string) {
	v, err := a.interp.Run(src)
	if err != nil {
		fmt.Fprintf(a.errOut, "Error: %v\n", err)
		return
	}
	if a.interp.TypeOf(v) != vm.TypeNull {
		fmt.Fprintln(a.out, a.interp.Repr(v))
	}
}

// writeSnapshot writes the heap as text when path ends in .txt, CBOR otherwise.
func (a *app) writeSnapshot(path string) error {
	snap := a.interp.TakeSnapshot()
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := snap.WriteText(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	data, err := vm.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// printSnapshot decodes a CBOR snapshot file and writes it as text.
func printSnapshot(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	snap, err := vm.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	return snap.WriteText(w)
}

// printRuns lists the runs in the configured journal.
func printRuns(w io.Writer, cfg *manifest.Manifest) error {
	path := cfg.JournalPath()
	if path == "" {
		return fmt.Errorf("no gc.journal configured in %s", manifest.FileName)
	}
	j, err := journal.Open(path, journal.RunInfo{Placement: cfg.Heap.Placement, Capacity: cfg.Heap.Size})
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.Runs()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tPLACEMENT\tCAPACITY\tCYCLES")
	for _, r := range runs {
		if r.ID == j.RunID() {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", r.ID, r.StartedAt.Format(time.RFC3339), r.Placement, r.Capacity, r.Cycles)
	}
	return tw.Flush()
}

func formatCycle(s vm.CollectStats) string {
	return fmt.Sprintf("cycle %d: %d roots, %d survivors, %d reclaimed (%d bytes), %d bytes free, %s",
		s.Cycle, s.Roots, s.Survivors, s.Reclaimed, s.BytesFreed, s.BytesFree, s.Duration)
}

// command handles a REPL meta-command. It reports whether the REPL should exit.
func (a *app) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":help", ":h", ":?":
		fmt.Fprintln(a.out, "REPL Commands:")
		fmt.Fprintln(a.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(a.out, "  :gc               Run a collection cycle")
		fmt.Fprintln(a.out, "  :heap             Show heap statistics")
		fmt.Fprintln(a.out, "  :dump             List every heap node")
		fmt.Fprintln(a.out, "  :env              Show visible bindings")
		fmt.Fprintln(a.out, "  :cycles           Show journaled collections for this run")
		fmt.Fprintln(a.out, "  :snapshot FILE    Write a heap snapshot")
		fmt.Fprintln(a.out, "  :quit, :q         Exit REPL")
	case ":quit", ":q":
		return true
	case ":gc":
		fmt.Fprintln(a.out, formatCycle(a.interp.Collect()))
	case ":heap":
		h := a.interp.Heap()
		fmt.Fprintf(a.out, "%s (placement %s, %d cycles)\n", h.Stats(), h.Placement().Name(), a.interp.Collector().Cycles())
	case ":dump":
		a.interp.Heap().Dump(a.out)
	case ":env":
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		for _, b := range a.interp.Env().Visible() {
			kind := "let"
			if b.Const {
				kind = "const"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kind, b.Name, a.interp.TypeOf(b.Value), a.interp.Repr(b.Value))
		}
		tw.Flush()
	case ":cycles":
		if a.journal == nil {
			fmt.Fprintf(a.out, "no gc.journal configured in %s\n", manifest.FileName)
			break
		}
		cycles, err := a.journal.Cycles(a.journal.RunID())
		if err != nil {
			fmt.Fprintf(a.errOut, "Error: %v\n", err)
			break
		}
		for _, c := range cycles {
			fmt.Fprintln(a.out, formatCycle(c))
		}
	case ":snapshot":
		if len(fields) != 2 {
			fmt.Fprintln(a.out, "usage: :snapshot FILE")
			break
		}
		if err := a.writeSnapshot(fields[1]); err != nil {
			fmt.Fprintf(a.errOut, "Error: %v\n", err)
			break
		}
		fmt.Fprintf(a.out, "wrote %s\n", fields[1])
	default:
		fmt.Fprintf(a.out, "Unknown command: %s (type :help for commands)\n", fields[0])
	}
	return false
}

// heapSummary is the banner line shown when the REPL starts.
func heapSummary(h *heap.Heap) string {
	return fmt.Sprintf("heap %d bytes, %s placement", h.Capacity(), h.Placement().Name())
}
