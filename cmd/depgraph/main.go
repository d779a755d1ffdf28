// Command depgraph renders this module's `go mod graph` output as a DOT
// graph, the same shape as biscuit's misc/depgraph tool: shell out to the
// go tool and reformat its stdout, no x/tools dependency-graph package
// involved (biscuit's own depgraph tool didn't reach for one either).
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

func main() {
	out := flag.String("o", "", "output file (default: stdout)")
	flag.Parse()

	edges, err := modGraph()
	if err != nil {
		fmt.Fprintln(os.Stderr, "depgraph:", err)
		os.Exit(1)
	}

	var w *os.File
	if *out == "" {
		w = os.Stdout
	} else {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintln(os.Stderr, "depgraph:", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	writeDot(w, edges)
}

type edge struct {
	from, to string
}

// modGraph runs `go mod graph` and parses its "module@version module@version"
// line format into edges.
func modGraph() ([]edge, error) {
	cmd := exec.Command("go", "mod", "graph")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go mod graph: %w", err)
	}

	var edges []edge
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		line := sc.Text()
		fields := bytes.Fields([]byte(line))
		if len(fields) != 2 {
			continue
		}
		edges = append(edges, edge{from: string(fields[0]), to: string(fields[1])})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return edges, nil
}

func writeDot(w *os.File, edges []edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		return edges[i].to < edges[j].to
	})

	fmt.Fprintln(w, "digraph depgraph {")
	fmt.Fprintln(w, "\trankdir=LR;")
	for _, e := range edges {
		fmt.Fprintf(w, "\t%q -> %q;\n", e.from, e.to)
	}
	fmt.Fprintln(w, "}")
}
