// Package version carries the build identity of the xvm binary.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/fatih/color"
)

// Overridable at build time via -ldflags "-X xvm/internal/version.Version=...".
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildDate = ""
)

// Info is the machine-readable form of the banner.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

// Current returns the identity of the running binary.
func Current() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

var (
	majorColor = color.New(color.FgYellow, color.Bold)
	minorColor = color.New(color.FgGreen, color.Bold)
	patchColor = color.New(color.FgBlue, color.Bold)
	dimColor   = color.New(color.Faint)
)

// Banner renders info as "pretty" (optionally coloured) or "json" text.
func Banner(info Info, format string, colored bool) (string, error) {
	switch format {
	case "", "pretty":
		return pretty(info, colored), nil
	case "json":
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil
	}
	return "", fmt.Errorf("unknown version format %q (want pretty or json)", format)
}

func pretty(info Info, colored bool) string {
	paint := func(c *color.Color, s string) string {
		if !colored {
			return s
		}
		return c.Sprint(s)
	}
	ver := info.Version
	core, suffix, _ := strings.Cut(ver, "-")
	if parts := strings.SplitN(core, ".", 3); len(parts) == 3 {
		ver = paint(majorColor, parts[0]) + "." + paint(minorColor, parts[1]) + "." + paint(patchColor, parts[2])
		if suffix != "" {
			ver += "-" + suffix
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "xvm %s\n", ver)
	if info.GitCommit != "" {
		fmt.Fprintf(&sb, "  %s %s\n", paint(dimColor, "commit"), info.GitCommit)
	}
	if info.BuildDate != "" {
		fmt.Fprintf(&sb, "  %s  %s\n", paint(dimColor, "built"), info.BuildDate)
	}
	fmt.Fprintf(&sb, "  %s     %s %s\n", paint(dimColor, "go"), info.Go, info.Platform)
	return sb.String()
}
