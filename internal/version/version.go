// Package version exposes the version of the service
package version

import (
	_ "embed" // for go:embed
	"strconv"
	"strings"
)

// VERSION holds the server's version
//
//go:embed VERSION
var VERSION string

// Version segments
var (
	MAJOR int
	MINOR int
	FIX   int
	PRE   int
)

func init() {
	VERSION = strings.TrimSpace(VERSION)
	MAJOR, MINOR, FIX, PRE = parse(VERSION)
}

// parse splits a version of the form MAJOR.MINOR.FIX[-prN]
func parse(v string) (major, minor, fix, pre int) {
	core, preRelease, _ := strings.Cut(v, "-")
	parts := strings.SplitN(core, ".", 3)
	segments := make([]int, 3)
	for i, p := range parts {
		segments[i], _ = strconv.Atoi(p)
	}
	if preRelease != "" {
		pre, _ = strconv.Atoi(strings.TrimPrefix(preRelease, "pr"))
	}
	return segments[0], segments[1], segments[2], pre
}

// glyphs are five rows high; every row of a glyph has the same width
var glyphs = map[rune][5]string{
	'0': {" ### ", "#   #", "#   #", "#   #", " ### "},
	'1': {"  #  ", " ##  ", "  #  ", "  #  ", " ### "},
	'2': {" ### ", "#   #", "  ## ", " #   ", "#####"},
	'3': {"#### ", "    #", " ### ", "    #", "#### "},
	'4': {"#   #", "#   #", "#####", "    #", "    #"},
	'5': {"#####", "#    ", "#### ", "    #", "#### "},
	'6': {" ### ", "#    ", "#### ", "#   #", " ### "},
	'7': {"#####", "   # ", "  #  ", " #   ", " #   "},
	'8': {" ### ", "#   #", " ### ", "#   #", " ### "},
	'9': {" ### ", "#   #", " ####", "    #", " ### "},
	'.': {"  ", "  ", "  ", "  ", "##"},
	'-': {"    ", "    ", "####", "    ", "    "},
}

// Banner renders VERSION as an ascii banner centred in width columns.
// Characters without a glyph are skipped; a width <= 0 disables centring.
func Banner(width int) string {
	var rows [5]strings.Builder
	for _, r := range VERSION {
		g, ok := glyphs[r]
		if !ok {
			continue
		}
		for i := range rows {
			if rows[i].Len() > 0 {
				rows[i].WriteByte(' ')
			}
			rows[i].WriteString(g[i])
		}
	}
	pad := ""
	if w := rows[0].Len(); width > w {
		pad = strings.Repeat(" ", (width-w)/2)
	}
	var out strings.Builder
	for i := range rows {
		out.WriteString(pad)
		out.WriteString(strings.TrimRight(rows[i].String(), " "))
		out.WriteByte('\n')
	}
	return out.String()
}
