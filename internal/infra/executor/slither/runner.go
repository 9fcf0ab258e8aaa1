package slither

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
)

// Accepted analyzer exit codes. Slither exits 0 with no issues, 1 or 255 when
// detectors fired; anything else is a real tool failure.
var okExitCodes = map[int]bool{0: true, 1: true, 255: true}

// emptyOutput stands in when the analyzer exits clean without printing JSON.
const emptyOutput = `{"success": true, "error": null, "results": {"detectors": []}}`

// Runner invokes slither out-of-process against a materialized source tree.
type Runner struct {
	slitherPath string
}

func NewRunner(slitherPath string) *Runner {
	if slitherPath == "" {
		slitherPath = "slither"
	}
	return &Runner{slitherPath: slitherPath}
}

func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	start := time.Now()

	target, err := resolveTarget(req)
	if err != nil {
		return domain.RunResult{}, err
	}

	args := buildArgs(target, req)
	cmd := exec.CommandContext(ctx, r.slitherPath, args...)
	cmd.Dir = req.Root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	// Surface the deadline/cancel distinctly; the process is already killed
	// by CommandContext at this point.
	if ctx.Err() != nil {
		return domain.RunResult{}, fmt.Errorf("slither terminated: %w", ctx.Err())
	}

	exitCode := 0
	if runErr != nil {
		ee, ok := runErr.(*exec.ExitError)
		if !ok {
			return domain.RunResult{}, fmt.Errorf("running slither: %w", runErr)
		}
		exitCode = ee.ExitCode()
	}

	if !okExitCodes[exitCode] {
		return domain.RunResult{}, fmt.Errorf("slither exited %d: %s", exitCode, tail(stderr.String(), 512))
	}

	out := stdout.Bytes()
	if len(bytes.TrimSpace(out)) == 0 {
		out = []byte(emptyOutput)
	}

	return domain.RunResult{
		Raw:        out,
		ExitCode:   exitCode,
		DurationMS: duration,
	}, nil
}

// resolveTarget picks what slither is pointed at. A build project is always
// analyzed whole from its root so cross-contract detectors see everything;
// a single-file project must contain exactly one .sol file with a supported
// pragma.
func resolveTarget(req domain.RunRequest) (string, error) {
	if req.Kind == domain.KindBuildProject {
		return ".", nil
	}

	var sol string
	for _, f := range req.Files {
		if strings.HasSuffix(f, ".sol") {
			if sol != "" {
				return "", fmt.Errorf("single-file project contains more than one .sol file")
			}
			sol = f
		}
	}
	if sol == "" {
		return "", fmt.Errorf("no .sol file in source tree")
	}

	version, err := DetectSolidityVersion(filepath.Join(req.Root, sol))
	if err != nil {
		return "", err
	}
	if !SupportedSolidityVersion(version) {
		return "", fmt.Errorf("unsupported solidity version %q (0.8.x required)", version)
	}
	return sol, nil
}

func buildArgs(target string, req domain.RunRequest) []string {
	args := []string{target, "--json", "-", "--disable-color", "--solc-disable-warnings"}
	if len(req.Config.DetectorsInclude) > 0 {
		args = append(args, "--detect", strings.Join(req.Config.DetectorsInclude, ","))
	}
	if len(req.Config.DetectorsExclude) > 0 {
		args = append(args, "--exclude", strings.Join(req.Config.DetectorsExclude, ","))
	}
	if req.Config.ExcludeDependencies {
		args = append(args, "--filter-paths", "lib/|node_modules/")
	}
	return args
}

var pragmaRe = regexp.MustCompile(`(?i)pragma\s+solidity\s+([^;]+);`)

// DetectSolidityVersion extracts the first pragma solidity constraint.
func DetectSolidityVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	m := pragmaRe.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("no pragma solidity statement in %s", filepath.Base(path))
	}
	return strings.TrimSpace(string(m[1])), nil
}

// SupportedSolidityVersion accepts the 0.8 series the bundled solc handles.
func SupportedSolidityVersion(version string) bool {
	v := strings.ReplaceAll(version, " ", "")
	for _, prefix := range []string{"^", "~", ">=", ">", "="} {
		v = strings.TrimPrefix(v, prefix)
	}
	return strings.HasPrefix(v, "0.8.") || v == "0.8"
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
