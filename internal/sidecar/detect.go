package sidecar

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// BrowserEnv overrides browser discovery with an explicit executable.
var BrowserEnv = []string{"WABRIDGE_BROWSER", "PUPPETEER_EXECUTABLE_PATH", "CHROME_BIN"}

var browserCandidates = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
}

// Browser describes a detected browser executable.
type Browser struct {
	Path    string
	Version string
	FromEnv bool
}

// Detector finds a browser executable usable by the sidecar.
type Detector struct {
	LookPath func(string) (string, error)
	Getenv   func(string) string
	Stat     func(string) (os.FileInfo, error)
	Runner   CommandRunner
}

func NewDetector() Detector {
	return Detector{
		LookPath: exec.LookPath,
		Getenv:   os.Getenv,
		Stat:     os.Stat,
		Runner:   ExecRunner{},
	}
}

// Detect reports the first browser found via environment override or PATH.
func (d Detector) Detect(ctx context.Context) (Browser, bool) {
	for _, key := range BrowserEnv {
		path := strings.TrimSpace(d.Getenv(key))
		if path == "" {
			continue
		}
		if _, err := d.Stat(path); err == nil {
			return Browser{Path: path, Version: d.version(ctx, path), FromEnv: true}, true
		}
	}
	for _, name := range browserCandidates {
		if path, err := d.LookPath(name); err == nil {
			return Browser{Path: path, Version: d.version(ctx, path)}, true
		}
	}
	return Browser{}, false
}

func (d Detector) version(ctx context.Context, path string) string {
	if d.Runner == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stdout, _, code, err := d.Runner.Run(ctx, path, "--version")
	if err != nil || code != 0 {
		return ""
	}
	return strings.TrimSpace(string(stdout))
}
