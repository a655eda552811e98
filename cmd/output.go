package cmd

import (
	"fmt"
	"io"
)

func printTask(w io.Writer, msg string) {
	fmt.Fprint(w, colorize.Color(fmt.Sprintf("[blue][bold]==>[default] %s\n", msg)))
}

func printSubtask(w io.Writer, msg string) {
	fmt.Fprint(w, colorize.Color(fmt.Sprintf("[green][bold]  ->[reset] %s\n", msg)))
}
