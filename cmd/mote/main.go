// Mote CLI - runs Mote scripts, the interactive REPL and the language server
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/term"

	"github.com/chazu/mote/manifest"
	"github.com/chazu/mote/server"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output (overrides log.verbosity)")
	interactive := flag.Bool("i", false, "Start interactive REPL after running files")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	initProject := flag.Bool("init", false, "Write a default mote.toml in the current directory")
	snapshotPath := flag.String("snapshot", "", "Write a heap snapshot after running (.txt for text, CBOR otherwise)")
	showSnapshot := flag.String("show-snapshot", "", "Print a CBOR heap snapshot as text and exit")
	listRuns := flag.Bool("runs", false, "List the runs recorded in the GC journal and exit")
	heapSize := flag.Int("heap", 0, "Heap capacity in bytes (overrides heap.size)")
	placement := flag.String("placement", "", "Placement policy: first-fit or best-fit (overrides heap.placement)")
	strict := flag.Bool("strict", false, "Panic on collector consistency violations (overrides gc.strict)")
	threshold := flag.Int("gc-threshold", 0, "Bytes allocated between automatic collections; negative disables (overrides gc.threshold)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mote [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs Mote scripts. With no files, runs the project entry or starts the REPL.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mote                              # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  mote main.mote                    # Run a script\n")
		fmt.Fprintf(os.Stderr, "  mote -heap 65536 -strict main.mote\n")
		fmt.Fprintf(os.Stderr, "  mote -snapshot heap.txt main.mote # Run, then dump the heap\n")
		fmt.Fprintf(os.Stderr, "  mote -lsp                         # Language server for editors\n")
	}
	flag.Parse()

	cwd, err := os.Getwd()
	if err != nil {
		fatalf("Error: %v", err)
	}

	if *initProject {
		m := manifest.Default()
		m.Project.Name = filepath.Base(cwd)
		if err := manifest.Write(cwd, m); err != nil {
			fatalf("Error: %v", err)
		}
		fmt.Printf("Wrote %s\n", manifest.FileName)
		return
	}

	if *showSnapshot != "" {
		if err := printSnapshot(os.Stdout, *showSnapshot); err != nil {
			fatalf("Error: %v", err)
		}
		return
	}

	cfg, err := manifest.FindAndLoad(cwd)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if cfg == nil {
		cfg = manifest.Default()
	}

	// Explicit flags win over mote.toml.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			if *verbose {
				cfg.Log.Verbosity = 2
			}
		case "heap":
			cfg.Heap.Size = *heapSize
		case "placement":
			cfg.Heap.Placement = *placement
		case "strict":
			cfg.GC.Strict = *strict
		case "gc-threshold":
			cfg.GC.Threshold = *threshold
		}
	})
	if err := cfg.Validate(); err != nil {
		fatalf("Error: %v", err)
	}
	configureLogging(cfg)

	if *listRuns {
		if err := printRuns(os.Stdout, cfg); err != nil {
			fatalf("Error: %v", err)
		}
		return
	}

	if *lspMode {
		opts, err := cfg.Options()
		if err != nil {
			fatalf("Error: %v", err)
		}
		worker, err := server.NewWorker(opts...)
		if err != nil {
			fatalf("Error: %v", err)
		}
		if err := server.NewLSP(worker).Run(); err != nil {
			fatalf("LSP error: %v", err)
		}
		return
	}

	a, err := newApp(cfg, os.Stdout, os.Stderr)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer a.close()

	paths := flag.Args()
	if len(paths) == 0 && cfg.EntryPath() != "" && !*interactive {
		paths = []string{cfg.EntryPath()}
	}

	status := 0
	for _, path := range paths {
		if err := a.runFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			status = 1
			break
		}
	}

	if status == 0 && (*interactive || len(paths) == 0) {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			a.repl(cfg.HistoryPath())
		} else if err := a.runReader("<stdin>", os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			status = 1
		}
	}

	if *snapshotPath != "" {
		if err := a.writeSnapshot(*snapshotPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			status = 1
		}
	}

	if status != 0 {
		a.close()
		os.Exit(status)
	}
}

// configureLogging points commonlog at the configured file, or stderr.
func configureLogging(cfg *manifest.Manifest) {
	path := cfg.LogFilePath()
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot create log directory: %v\n", err)
			path = ""
		}
	}
	commonlog.Initialize(cfg.Log.Verbosity, path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
