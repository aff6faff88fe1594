package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/checkout-inspector/cmd"
	"github.com/xkilldash9x/checkout-inspector/internal/config"
	"github.com/xkilldash9x/checkout-inspector/internal/observability"
)

const panicLogName = "panic.log"

// Function variables for tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	panicLogDir = config.DefaultDataDir
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
			} else {
				osExit(1)
			}
		}
		return
	}

	runInteractive(ctx, os.Stdin, os.Stdout)
}

// runInteractive reads commands line by line until EOF or "exit". Browser
// state does not carry over between lines.
func runInteractive(ctx context.Context, in io.Reader, out io.Writer) {
	fmt.Fprintf(out, "checkout-inspector %s. Type a command (e.g. \"scan https://shop.example/checkout\") or \"exit\".\n", cmd.Version)
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "checkout-inspector > ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeInteractiveCommand(ctx, line, out)
		if ctx.Err() != nil {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
		return
	}
	fmt.Fprintln(out, "Exiting checkout-inspector.")
}

// executeInteractiveCommand runs one line on a fresh command tree so flags
// never leak between lines.
func executeInteractiveCommand(ctx context.Context, line string, out io.Writer) {
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(strings.Fields(line))
	rootCmd.SetOut(out)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Error: command panicked: %v\n", r)
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
}

// handlePanic records the panic and its stack to the data directory before
// exiting non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	path := filepath.Join(panicLogDir(), panicLogName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		err = osWriteFile(path, []byte(panicMessage), 0o644)
		if err == nil {
			fmt.Fprintf(os.Stderr, "\nCRASH DETECTED. Details logged to %s\n", path)
			osExit(2)
			return
		}
	}
	fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log.\nPanic details:\n%s\n", panicMessage)
	osExit(2)
}
