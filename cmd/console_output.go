package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// ConsoleWriter renders zerolog's JSON events as short, colored lines
type ConsoleWriter struct {
	out    io.Writer
	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

// prefixFields are prepended to the message ("site: build: ...") in this order
var prefixFields = []string{"project", "task", "step"}

// hiddenFields are either part of the line already or not useful on a console
var hiddenFields = map[string]bool{
	"level":   true,
	"message": true,
	"error":   true,
	"time":    true,
	"command": true,
	"project": true,
	"task":    true,
	"step":    true,
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	for _, field := range prefixFields {
		if value, ok := evt[field].(string); ok {
			w.buffer.WriteString(value + ": ")
		}
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	if isCmd, _ := evt["command"].(bool); isCmd {
		w.buffer.WriteString("$ ")
	}

	msg, _ := evt["message"].(string)
	if path, ok := evt["path"].(string); ok {
		// simplify the path
		relPath, err := filepath.Rel(".", path)
		if err == nil {
			msg = strings.ReplaceAll(msg, path, relPath)
		}
	}
	w.buffer.WriteString(msg)

	extra := make([]string, 0, len(evt))
	for name, value := range evt {
		if !hiddenFields[name] {
			extra = append(extra, fmt.Sprintf("%s=%v", name, value))
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		w.buffer.WriteString(" [dim]" + strings.Join(extra, " ") + "[reset]")
	}

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	w.buffer.WriteString("[reset]\n")
	_, err = io.WriteString(w.out, colorize.Color(w.buffer.String()))
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

var colorize = colorstring.Colorize{
	Colors:  colorstring.DefaultColors,
	Reset:   true,
	Disable: os.Getenv("NO_COLOR") != "",
}
