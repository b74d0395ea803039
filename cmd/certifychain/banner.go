package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/certifychain/certifychain/internal/version"
)

const logo = `
  ____          _   _  __        ____ _           _
 / ___|___ _ __| |_(_)/ _|_   _ / ___| |__   __ _(_)_ __
| |   / _ \ '__| __| | |_| | | | |   | '_ \ / _' | | '_ \
| |__|  __/ |  | |_| |  _| |_| | |___| | | | (_| | | | | |
 \____\___|_|   \__|_|_|  \__, |\____|_| |_|\__,_|_|_| |_|
                          |___/
`

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visibleWidth returns the width of the widest line of s with ansi escapes
// removed
func visibleWidth(s string) int {
	width := 0
	for _, line := range strings.Split(ansi.ReplaceAllString(s, ""), "\n") {
		if w := utf8.RuneCountInString(line); w > width {
			width = w
		}
	}
	return width
}

func printBanner(withLogo, withVersion bool) {
	if !withLogo && !withVersion {
		return
	}
	l := color.New(color.FgCyan, color.Bold).Sprint(logo)
	if withLogo {
		_, _ = fmt.Fprintln(os.Stderr, l)
	}
	if withVersion {
		_, _ = fmt.Fprintln(os.Stderr, color.New(color.FgMagenta).Sprint(version.Banner(visibleWidth(l))))
	}
}
