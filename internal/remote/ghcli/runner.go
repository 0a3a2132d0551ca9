package ghcli

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/forgecache/internal/remote"
)

// Runner executes the gh binary and returns stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs gh as a subprocess.
type ExecRunner struct {
	// Bin is the executable, "gh" when empty.
	Bin string
	// Env is appended to the inherited environment (e.g. GH_TOKEN=...).
	Env []string
}

var httpStatus = regexp.MustCompile(`HTTP (\d{3})`)

func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	bin := r.Bin
	if bin == "" {
		bin = "gh"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), commandError(args, stdout.Bytes(), stderr.Bytes(), err)
	}
	return stdout.Bytes(), nil
}

// commandError turns a failed gh invocation into *remote.Error. gh api
// prints "gh: <message> (HTTP <status>)" on stderr and the response body on
// stdout.
func commandError(args []string, stdout, stderr []byte, err error) error {
	msg := trimOutput(stderr)
	re := &remote.Error{Method: method(args), Message: msg}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		re.Err = err
		return re
	}
	if m := httpStatus.FindStringSubmatch(msg); m != nil {
		re.Status, _ = strconv.Atoi(m[1])
		re.Message = strings.TrimSpace(strings.TrimPrefix(httpStatus.ReplaceAllString(msg, ""), "gh:"))
		re.Message = strings.TrimSpace(strings.Trim(re.Message, "()"))
		if body := apiMessage(stdout); body != "" {
			re.Message = body
		}
	} else if re.Message == "" {
		re.Err = err
	}
	return re
}

// method names the call for error messages: "gh api POST /repos/..." style
// invocations become "api <path>".
func method(args []string) string {
	if len(args) == 0 {
		return "gh"
	}
	if args[0] == "api" {
		for _, a := range args[1:] {
			if strings.HasPrefix(a, "/") || strings.HasPrefix(a, "repos/") || strings.HasPrefix(a, "user") {
				return "api " + a
			}
		}
	}
	return strings.Join(args[:min(2, len(args))], " ")
}

func trimOutput(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
