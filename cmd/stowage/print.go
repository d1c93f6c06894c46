package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rodaine/table"

	"github.com/TheMichaelB/stowage/internal/models"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgCyan)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgHiBlack, color.Underline)
)

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorColor.Sprint("✗"), fmt.Sprintf(format, args...))
}

func printSuccess(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", successColor.Sprint("✓"), fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", infoColor.Sprint("•"), fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", warningColor.Sprint("!"), fmt.Sprintf(format, args...))
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("encode output: %v", err)
	}
}

// printResult prints v as JSON in --json mode, otherwise calls human.
func printResult(v interface{}, human func()) {
	if jsonOutput {
		printJSON(v)
		return
	}
	human()
}

func newTable(headers ...interface{}) table.Table {
	return table.New(headers...).
		WithHeaderFormatter(headerColor.SprintfFunc()).
		WithPadding(2)
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func formatName(e models.Entry) string {
	if e.Kind() == models.KindFolder {
		return e.EntryName() + "/"
	}
	return e.EntryName()
}

func exitCode(err error) int {
	switch models.ErrorCode(err) {
	case models.ErrCodeAuth:
		return 2
	case models.ErrCodeConfig:
		return 3
	case models.ErrCodePartial:
		return 4
	default:
		return 1
	}
}
