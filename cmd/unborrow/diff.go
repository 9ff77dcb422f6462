package main

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContext = 3

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
	a    int // line number in the original
	b    int // line number in the output
}

// unifiedDiff renders the line changes between a and b as a unified diff.
func unifiedDiff(name string, a, b []byte) string {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(string(a), string(b))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var all []diffLine
	la, lb := 1, 1
	for _, d := range diffs {
		for _, text := range strings.SplitAfter(d.Text, "\n") {
			if text == "" {
				continue
			}
			all = append(all, diffLine{op: d.Type, text: text, a: la, b: lb})
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				la++
				lb++
			case diffmatchpatch.DiffDelete:
				la++
			case diffmatchpatch.DiffInsert:
				lb++
			}
		}
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- %s.orig\n+++ %s\n", name, name)
	for i := 0; i < len(all); {
		if all[i].op == diffmatchpatch.DiffEqual {
			i++
			continue
		}
		start := max(0, i-diffContext)
		end := i
		// Extend the hunk while the next change is within two contexts.
		for j := i; j < len(all); j++ {
			if all[j].op != diffmatchpatch.DiffEqual {
				end = j
			} else if j-end > 2*diffContext {
				break
			}
		}
		end = min(len(all), end+diffContext+1)
		writeHunk(&out, all[start:end])
		i = end
	}
	return out.String()
}

func writeHunk(out *strings.Builder, hunk []diffLine) {
	var oldCount, newCount int
	for _, l := range hunk {
		if l.op != diffmatchpatch.DiffInsert {
			oldCount++
		}
		if l.op != diffmatchpatch.DiffDelete {
			newCount++
		}
	}
	oldStart, newStart := hunk[0].a, hunk[0].b
	if oldCount == 0 {
		oldStart--
	}
	if newCount == 0 {
		newStart--
	}
	fmt.Fprintf(out, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, l := range hunk {
		switch l.op {
		case diffmatchpatch.DiffEqual:
			out.WriteByte(' ')
		case diffmatchpatch.DiffDelete:
			out.WriteByte('-')
		case diffmatchpatch.DiffInsert:
			out.WriteByte('+')
		}
		out.WriteString(l.text)
		if !strings.HasSuffix(l.text, "\n") {
			out.WriteString("\n\\ No newline at end of file\n")
		}
	}
}
