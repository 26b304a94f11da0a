package terminal

import (
	"bufio"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru"
)

// sourceCache keeps the line-split contents of recently listed source
// files. Files are small and re-read rarely, the cache only has to
// absorb the repeated listings of the current file while stepping.
var sourceCache, _ = lru.New(16)

func fileLines(path string) ([]string, error) {
	if cached, ok := sourceCache.Get(path); ok {
		return cached.([]string), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sourceCache.Add(path, lines)
	return lines, nil
}

// printSource lists the source around line, context lines above and
// below, marking the current line with an arrow.
func printSource(t *Term, file string, line int, context int) error {
	lines, err := fileLines(file)
	if err != nil {
		return fmt.Errorf("could not list %s: %v", file, err)
	}

	start := line - context
	if start < 1 {
		start = 1
	}
	end := line + context
	if end > len(lines) {
		end = len(lines)
	}
	for i := start; i <= end; i++ {
		arrow := "  "
		if i == line {
			arrow = "=>"
		}
		fmt.Fprintf(t.stdout, "%s %4d: %s\n", arrow, i, lines[i-1])
	}
	return nil
}
