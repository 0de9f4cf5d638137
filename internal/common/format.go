package common

import (
	"fmt"
	"strings"
)

// DefaultWidth is the report width used by the CLI tools.
const DefaultWidth = 80

// PrintHeader prints a report title framed by separator lines.
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", width))
}

// PrintFooter prints a closing summary line framed by separator lines.
func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// PrintBoxSeparator prints a box-drawing rule between report sub-sections.
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// BoxPrefix returns the box-drawing prefix for a report line, closing the
// box on the last entry.
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}
