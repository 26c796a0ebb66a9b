package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ghodss/yaml"
)

const (
	outputFormatTab  = "tab"
	outputFormatJSON = "json"
	outputFormatYAML = "yaml"
)

func newTabwriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
}

func outputFormatIsValid(format string, allowTab bool) bool {
	switch format {
	case outputFormatJSON, outputFormatYAML:
		return true
	case outputFormatTab:
		return allowTab
	}
	return false
}

// printStructured writes v as indented JSON or as YAML.
func printStructured(out io.Writer, format string, v interface{}) error {
	var (
		b   []byte
		err error
	)
	switch format {
	case outputFormatYAML:
		b, err = yaml.Marshal(v)
	default:
		b, err = json.MarshalIndent(v, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.RFC822)
}

func makeExample(examples ...string) string {
	var buf bytes.Buffer
	for _, ex := range examples {
		fmt.Fprintf(&buf, "  %s\n", ex)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
