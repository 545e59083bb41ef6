// Command scenariocheck validates a scenario file without starting the
// engine. It reports every schema problem at once and warns about transition
// targets that do not resolve to a page.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/paper-theater/kamishibai/internal/scenario"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: scenariocheck [-strict] <scenario.yaml>")
		flag.PrintDefaults()
	}
	strict := flag.Bool("strict", false, "treat dangling transition targets as errors")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	graph, err := scenario.LoadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	pages := 0
	transitions := 0
	for _, s := range graph.Scenes {
		pages += len(s.Pages)
		for _, p := range s.Pages {
			transitions += len(p.Transitions)
		}
	}

	start := graph.StartScene
	if sc := graph.Scene(start); sc != nil {
		start = scenario.QualifyTarget(sc.ID, sc.StartPage)
	}
	fmt.Printf("%s: %d scenes, %d pages, %d transitions, start %s\n",
		path, len(graph.Scenes), pages, transitions, start)

	dangling := graph.DanglingTargets()
	for _, d := range dangling {
		fmt.Printf("warning: dangling transition target: %s\n", d)
	}
	if len(dangling) > 0 && *strict {
		os.Exit(1)
	}
}
