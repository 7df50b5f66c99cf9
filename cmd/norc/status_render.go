package main

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"norc/internal/lifecycle"
	"norc/internal/registry"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var statusWords = map[lifecycle.Status]string{
	lifecycle.StatusRunning:         "running",
	lifecycle.StatusPauseRequested:  "pause requested",
	lifecycle.StatusPaused:          "paused",
	lifecycle.StatusStopRequested:   "stop requested",
	lifecycle.StatusStopInProgress:  "stopping",
	lifecycle.StatusEndedGracefully: "ended gracefully",
	lifecycle.StatusKillRequested:   "kill requested",
	lifecycle.StatusKillInProgress:  "killing",
	lifecycle.StatusKilled:          "killed",
	lifecycle.StatusError:           "error",
}

var titleCaser = cases.Title(language.English)

// statusLabel renders a daemon status for people, e.g. "Stop Requested".
func statusLabel(status lifecycle.Status) string {
	words, ok := statusWords[status]
	if !ok {
		words = strings.ToLower(string(status))
	}
	return titleCaser.String(words)
}

func statusColor(status lifecycle.Status) string {
	switch status {
	case lifecycle.StatusRunning:
		return ansiGreen
	case lifecycle.StatusEndedGracefully:
		return ansiBlue
	case lifecycle.StatusKilled, lifecycle.StatusError:
		return ansiRed
	default:
		return ansiYellow
	}
}

func renderStatus(status lifecycle.Status, colorize bool) string {
	label := statusLabel(status)
	if !colorize {
		return label
	}
	return statusColor(status) + label + ansiReset
}

func runStatusLabel(status registry.RunStatus) string {
	if status == registry.RunNoStatus {
		return "No Status"
	}
	if status == registry.RunTimedOut {
		return "Timed Out"
	}
	return titleCaser.String(string(status))
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
