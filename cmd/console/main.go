package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"
	"golang.org/x/term"

	"gocompile/pkg/config"
	"gocompile/pkg/cpu"
	"gocompile/pkg/persist"
	"gocompile/pkg/pipeline"
)

const prompt = "\033[32m>\033[0m "

const help = `commands:
  :load FILE      use FILE as source text
  :watch FILE     like :load, and reload whenever FILE changes
  :run STAGE      run one stage (Lexed ... Simulated)
  :all            run every missing stage
  :show NAME      print an artifact (tokens, optimizedIR, ...)
  :state          print the pipeline state
  :diag           print all diagnostics
  :export FILE    write every artifact to a zip archive
  :quit
any other line is compiled and run as a program`

type console struct {
	store *pipeline.Store
	out   io.Writer
	ctx   context.Context
}

func main() {
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	session := fs.String("session", "console", "name under which artifacts are stored")
	cfg, err := config.FromFlags(fs, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	backend, closeBackend, err := cfg.OpenBackend(ctx)
	if err != nil {
		// keep going without persistence
		log.Printf("artifact store unavailable, working in memory: %v", err)
		backend = nil
	}
	if backend != nil {
		backend = persist.Prefixed{B: backend, Prefix: *session}
	}
	store := pipeline.New(ctx, cfg.PipelineOptions(backend, nil))

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			cancel()
			if err := store.Close(); err != nil {
				log.Printf("flush: %v", err)
			}
			_ = closeBackend()
		})
	}
	onexit.Register(shutdown)
	defer shutdown()

	c := &console{store: store, out: os.Stdout, ctx: ctx}
	if src, ok := store.Source(); ok {
		fmt.Fprintf(c.out, "resumed session %q at %s (%d bytes of source)\n", *session, store.State(), len(src))
	}
	if fs.NArg() > 0 {
		c.exec(":watch " + fs.Arg(0))
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if !c.exec(sc.Text()) {
				return
			}
		}
		return
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".gocompile-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		log.Fatalf("readline: %v", err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		} else if err == io.EOF {
			return
		} else if err != nil {
			log.Printf("readline: %v", err)
			return
		}
		if !c.exec(line) {
			return
		}
	}
}

// exec runs one console line and reports whether to keep going.
func (c *console) exec(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, ":") {
		c.store.SetSource(line)
		c.runAll()
		return true
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "q":
		return false
	case "help":
		fmt.Fprintln(c.out, help)
	case "load":
		data, err := os.ReadFile(arg)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			break
		}
		c.store.SetSource(string(data))
		fmt.Fprintln(c.out, "state:", c.store.State())
	case "watch":
		go func() {
			err := c.store.WatchSource(c.ctx, arg, func() {
				fmt.Fprintf(c.out, "\n%s changed\n", arg)
				c.runAll()
			})
			if err != nil {
				fmt.Fprintln(c.out, "error:", err)
			}
		}()
	case "run":
		stage, err := pipeline.ParseStage(arg)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			break
		}
		r, err := c.store.Run(stage)
		c.printDiagnostics(r)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			break
		}
		fmt.Fprintln(c.out, "state:", c.store.State())
	case "all":
		c.runAll()
	case "show":
		data, ok := c.store.Artifact(arg)
		if !ok {
			fmt.Fprintf(c.out, "%s is not computed\n", arg)
			break
		}
		fmt.Fprintln(c.out, strings.TrimRight(string(data), "\n"))
	case "state":
		fmt.Fprintln(c.out, "state:", c.store.State())
	case "diag":
		for _, d := range c.store.AllDiagnostics() {
			fmt.Fprintf(c.out, "%s: %v\n", d.Stage, d)
		}
	case "export":
		if err := c.export(arg); err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
	default:
		fmt.Fprintf(c.out, "unknown command %q, try :help\n", cmd)
	}
	return true
}

func (c *console) runAll() {
	results, err := c.store.RunAll()
	for _, r := range results {
		c.printDiagnostics(r)
	}
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
	}
	if steps, ok := c.store.Steps(); ok {
		res := cpu.NewResult(steps)
		for _, o := range res.Output {
			fmt.Fprintln(c.out, o)
		}
		final := res.Final()
		fmt.Fprintf(c.out, "%d steps, globals: %s\n", len(steps), strings.Join(final.DataSegment, ", "))
	}
}

func (c *console) printDiagnostics(r pipeline.Result) {
	for _, d := range r.Diagnostics {
		fmt.Fprintf(c.out, "%s: %v\n", d.Stage, d)
	}
}

func (c *console) export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.store.Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
