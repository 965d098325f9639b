// Command voiceprobe drives a running relay from the command line.
//
// Usage:
//
//	voiceprobe send --file question.wav --out answer.wav
//
// The input is converted to 44.1 kHz mono PCM16 if needed, streamed to the
// relay in binary chunks, and every binary frame of the reply is written to
// --out as a WAV file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
