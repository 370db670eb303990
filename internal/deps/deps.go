package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// versionTimeout bounds a single "-version" probe.
const versionTimeout = 5 * time.Second

// Requirement defines an external binary mediaguard relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency. Path is the resolved
// executable and Version the first line of its -version output when probed.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Version     string
	Detail      string
}

// Resolve returns the absolute path of command when it can be found on PATH,
// otherwise the trimmed command unchanged.
func Resolve(command string) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return ""
	}
	if resolved, err := exec.LookPath(command); err == nil {
		return resolved
	}
	return command
}

// CheckBinaries reports which requirements are on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, lookup(req))
	}
	return results
}

// CheckVersioned is CheckBinaries plus a -version probe; ffmpeg and ffprobe
// both print their build on the first line, which becomes the detail.
func CheckVersioned(ctx context.Context, requirements []Requirement) []Status {
	results := CheckBinaries(requirements)
	for i := range results {
		if !results[i].Available {
			continue
		}
		version, err := Version(ctx, results[i].Path)
		if err != nil {
			results[i].Available = false
			results[i].Detail = err.Error()
			continue
		}
		results[i].Version = version
		results[i].Detail = version
	}
	return results
}

// Version runs "<binary> -version" and returns the first output line.
func Version(ctx context.Context, binary string) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "", fmt.Errorf("command not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", binary, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%s -version: empty output", binary)
}

func lookup(req Requirement) Status {
	status := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if status.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		return status
	}
	status.Available = true
	status.Path = path
	return status
}
