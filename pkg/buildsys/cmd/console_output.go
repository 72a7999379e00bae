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
	"github.com/rs/zerolog"
)

// ConsoleWriter renders zerolog's JSON events as short, colored lines
type ConsoleWriter struct {
	out    io.Writer
	debug  bool
	buffer strings.Builder
	lock   sync.Mutex
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{
		out:   out,
		debug: os.Getenv("BUILDSYS_DEBUG") != "",
	}
}

var levelColors = map[string]string{
	"fatal": "[red]",
	"error": "[red]",
	"warn":  "[yellow]",
	"debug": "[blue]",
	"trace": "[blue]",
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
	level, _ := evt["level"].(string)
	color, ok := levelColors[level]
	if !ok {
		color = "[green]"
	}
	w.buffer.WriteString(color)

	if task, ok := evt["task"].(string); ok {
		w.buffer.WriteString(task + ": ")
	}

	if level == "error" || level == "fatal" {
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

	if took, ok := evt["took"]; ok {
		w.buffer.WriteString(fmt.Sprintf(" (%vms)", took))
	}

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if w.debug {
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		w.buffer.WriteString("\n")
		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")
	_, err = colorstring.Fprint(w.out, w.buffer.String())
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv("BUILDSYS_DEBUG") != "")
	}
}
