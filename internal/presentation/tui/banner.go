package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the ASCII art banner for espalier.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"                        _ _", "#86efac"},
		{"   ___  ___ _ __   __ _| (_) ___ _ __", "#4ade80"},
		{"  / _ \\/ __| '_ \\ / _` | | |/ _ \\ '__|", "#22c55e"},
		{" |  __/\\__ \\ |_) | (_| | | |  __/ |", "#16a34a"},
		{"  \\___||___/ .__/ \\__,_|_|_|\\___|_|", "#15803d"},
		{"           |_|", "#166534"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
