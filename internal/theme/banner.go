package theme

import (
	"fmt"
	"io"
)

const (
	cyan    = "\033[36m"
	magenta = "\033[35m"
	yellow  = "\033[33m"
	reset   = "\033[0m"
)

// Banner returns the CLI banner.
func Banner() string {
	art := "" +
		"  ✦✵✷   " + magenta + "AMPLIFY" + reset + "   ✷✵✦\n" +
		cyan + "   ▄▀▄ █▄ ▄█ █▀▄ █   █ █▀ █ █\n" + reset +
		cyan + "   █▀█ █ ▀ █ █▀  █▄▄ █ █▀  █\n" + reset +
		yellow + "     ────────────────────────────\n" + reset +
		"   publish everywhere, boost what works ✦\n"
	return art
}

// Fprint writes the banner to w.
func Fprint(w io.Writer) {
	fmt.Fprint(w, Banner())
}
