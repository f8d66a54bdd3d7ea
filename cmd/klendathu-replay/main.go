// Command klendathu-replay inspects a cached transcript file and, optionally,
// replays it against a fresh Evaluator standing in for the original context
// (spec.md §4.3/§4.5: cached transcripts are plain JSON, readable and
// replayable without the agent that produced them).
package main

import (
	"flag"
	"fmt"
	"os"

	kctx "github.com/semistrict/klendathu/context"
	"github.com/semistrict/klendathu/replay"
	"github.com/semistrict/klendathu/sandbox"
	"github.com/semistrict/klendathu/transcript"
)

func main() {
	replayFlag := flag.Bool("replay", false, "replay the transcript's calls against a fresh evaluator")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: klendathu-replay [-replay] <transcript.json>")
		os.Exit(2)
	}

	data, err := os.ReadFile(flag.Arg(0))
	must(err)

	t, err := transcript.Unmarshal(data)
	must(err)

	printSummary(t)

	if *replayFlag {
		runReplay(t)
	}
}

func printSummary(t transcript.Transcript) {
	fmt.Printf("success: %v\n", t.Success)
	fmt.Printf("prompt:\n%s\n", t.Task.Prompt)
	fmt.Printf("messages: %d\n", len(t.Messages))
	fmt.Printf("calls: %d\n", len(t.Calls))
	for i, c := range t.Calls {
		status := "ok"
		if c.Result.IsError {
			status = "error: " + c.Result.Message
		}
		fmt.Printf("  [%d] %s %s\n", i, c.Tool, status)
	}
}

func runReplay(t transcript.Transcript) {
	// Standalone replay has no access to the original live context; an empty
	// Bag and nil schema are enough to re-execute eval/set_result code and
	// report whether it is environment-sensitive (spec.md §4.5 mismatch
	// detection still fires on a thrown or error-shaped result).
	ev := sandbox.NewEvaluator(kctx.Bag{}, nil, nil)
	_, ok, report := replay.Replay(ev, t.Calls)
	fmt.Printf("\nreplay: ok=%v replayed=%d", ok, report.Replayed)
	if report.Mismatched {
		fmt.Printf(" mismatch_call=%d reason=%q", report.MismatchCall, report.Reason)
	}
	fmt.Println()
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "klendathu-replay:", err)
		os.Exit(1)
	}
}
