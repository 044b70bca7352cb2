// Package cliselect implements an interactive, raw-terminal arrow-key
// menu, used when a --scan turns up more than one KEY-BLE candidate and
// the user must pick one (adapted from the keyswap tool's slot picker).
package cliselect

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Menu renders prompt followed by items and lets the user pick one with
// the up/down arrow keys and Enter. It returns the chosen index, or -1
// if items is empty or the terminal can't be put into raw mode. Ctrl-C
// exits the process, matching the teacher's picker.
func Menu(prompt string, items []string) int {
	if len(items) == 0 {
		return -1
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error setting raw mode: %v\r\n", err)
		return -1
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	selected := 0
	render(prompt, items, selected, false)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			break
		}

		if n == 1 {
			switch buf[0] {
			case 0x0D, 0x0A:
				fmt.Printf("\r\n")
				return selected
			case 0x03:
				term.Restore(int(os.Stdin.Fd()), oldState)
				fmt.Printf("\r\n")
				os.Exit(0)
			}
			continue
		}

		if n == 3 && buf[0] == 0x1B && buf[1] == '[' {
			moved := false
			switch buf[2] {
			case 'A':
				if selected > 0 {
					selected--
					moved = true
				}
			case 'B':
				if selected < len(items)-1 {
					selected++
					moved = true
				}
			}
			if moved {
				fmt.Printf("\033[%dA", len(items))
				render(prompt, items, selected, true)
			}
		}
	}
	return selected
}

func render(prompt string, items []string, selected int, redrawOnly bool) {
	if !redrawOnly {
		fmt.Printf("%s\r\n", prompt)
	}
	for i, item := range items {
		fmt.Print("\033[2K\r")
		if i == selected {
			fmt.Printf("> %s\r\n", item)
		} else {
			fmt.Printf("  %s\r\n", item)
		}
	}
}
