package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forgecache/internal/app"
	"github.com/roach88/forgecache/internal/testutil"
)

// cliEnv is one isolated installation: a config file, a database and a
// fixture remote. Each run reloads the fixture, so remote changes do not
// survive between runs while the database does.
type cliEnv struct {
	t      *testing.T
	config string
}

func newCLIEnv(t *testing.T, fixturePath string) *cliEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	abs, err := filepath.Abs(fixturePath)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`database:
  path: %s
remote:
  kind: fixture
  fixture: %s
auth:
  token_env: FORGECACHE_TEST_TOKEN_UNSET
`, filepath.Join(dir, "forgecache.db"), abs)
	path := filepath.Join(dir, "forgecache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &cliEnv{t: t, config: path}
}

// run executes the CLI and returns stdout, stderr and the exit code.
func (e *cliEnv) run(args ...string) (string, string, int) {
	e.t.Helper()
	opts := &RootOptions{
		AppOptions: []app.Option{app.WithRunIDGenerator(testutil.NewSequentialRunIDs())},
	}
	cmd := newRootCommand(opts)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), GetExitCode(err)
}

func (e *cliEnv) runJSON(args ...string) (CLIResponse, int) {
	e.t.Helper()
	stdout, stderr, code := e.run(append([]string{"--format", "json"}, args...)...)
	var resp CLIResponse
	require.NoError(e.t, json.Unmarshal([]byte(stdout), &resp), "stdout=%q stderr=%q", stdout, stderr)
	return resp, code
}

func TestSync_JSON(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	resp, code := env.runJSON("sync")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "success", data["state"])
	assert.Equal(t, "run-0001", data["run_id"])
	assert.Equal(t, float64(1), data["synced"])
	assert.Equal(t, "Synced 1 repository", data["message"])
	assert.NotEmpty(t, data["last_sync"])
}

func TestSync_IfStaleSkipsFreshSync(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	_, _, code := env.run("sync")
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := env.run("sync", "--if-stale")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Up to date")
}

func TestSync_RepositoryFailureExitsOne(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "faulty.yaml")
	raw, err := os.ReadFile("testdata/widgets.yaml")
	require.NoError(t, err)
	raw = append(raw, []byte(`faults:
  - method: ListPullRequests
    status: 502
    message: Bad Gateway
`)...)
	require.NoError(t, os.WriteFile(fixture, raw, 0o644))
	env := newCLIEnv(t, fixture)

	stdout, _, code := env.run("sync")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "Synced 0 of 1 repository, 1 failed")
	assert.Contains(t, stdout, "acme/widgets")
}

func TestPRs_Grouped(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	stdout, stderr, code := env.run("prs", "acme/widgets", "--grouped")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "claude (1)")
	assert.Contains(t, stdout, "feat (1)")
	assert.Contains(t, stdout, "fix (1)")
	assert.Less(t, bytes.Index([]byte(stdout), []byte("claude (1)")), bytes.Index([]byte(stdout), []byte("feat (1)")))
}

func TestPRs_OfflineServesWarmCache(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	_, _, code := env.run("prs", "acme/widgets")
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := env.run("--offline", "prs", "acme/widgets")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "#3")
	assert.Contains(t, stdout, "feat: sprockets")
	assert.Contains(t, stdout, "never refreshed")
}

func TestCacheClear_PurgeDropsWarmStart(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	_, _, code := env.run("prs", "acme/widgets")
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := env.run("cache", "clear")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "the database was kept")

	stdout, _, code = env.run("--offline", "prs", "acme/widgets")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "#3")

	resp, code := env.runJSON("cache", "clear", "--purge")
	require.Equal(t, ExitSuccess, code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["purged"])
	assert.Greater(t, data["rows_deleted"], float64(0))

	stdout, _, code = env.run("--offline", "prs", "acme/widgets")
	require.Equal(t, ExitSuccess, code)
	assert.NotContains(t, stdout, "#3")
}

func TestPRs_InvalidRepository(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	resp, code := env.runJSON("prs", "widgets")
	assert.Equal(t, ExitCommandError, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUsage, resp.Error.Code)
}

func TestPRApprove(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	stdout, stderr, code := env.run("pr", "approve", "acme/widgets", "2")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Approved acme/widgets#2")
	assert.Contains(t, stdout, "review approved")
}

func TestPRApprove_OwnPullRequestIsRejected(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	resp, code := env.runJSON("pr", "approve", "acme/widgets", "3")
	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMutation, resp.Error.Code)
	assert.Equal(t, "pull request was already reviewed or cannot be reviewed", resp.Error.Message)
}

func TestPRApprove_UnknownNumber(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	resp, code := env.runJSON("pr", "approve", "acme/widgets", "99")
	assert.Equal(t, ExitCommandError, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotCached, resp.Error.Code)
}

func TestPRMerge_InvalidMethod(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	stdout, _, code := env.run("pr", "merge", "acme/widgets", "1", "--method", "octopus")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout, `invalid merge method "octopus"`)
}

func TestPRLabelAdd(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	stdout, stderr, code := env.run("pr", "label", "add", "acme/widgets", "1", "bug")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "labels [bug,enhancement]")
}

func TestIssueClose_Batch(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	stdout, stderr, code := env.run("issue", "close", "acme/widgets", "11", "10")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Closed acme/widgets#10: Broken widget (closed")
	assert.Contains(t, stdout, "Closed acme/widgets#11: Sprocket squeaks (closed")
}

func TestIssueClose_InvalidNumber(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	_, _, code := env.run("issue", "close", "acme/widgets", "ten")
	assert.Equal(t, ExitCommandError, code)
}

func TestBranches_MarksDefault(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	stdout, stderr, code := env.run("branches", "acme/widgets")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Regexp(t, `(?m)^\*\s+main\s+bbb2222`, stdout)
	assert.Contains(t, stdout, "+2/-0")
}

func TestBranches_DefaultBranchLookupFailureIsLogged(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "faulty.yaml")
	raw, err := os.ReadFile("testdata/widgets.yaml")
	require.NoError(t, err)
	raw = append(raw, []byte(`faults:
  - method: ListRepositories
    status: 502
    message: Bad Gateway
`)...)
	require.NoError(t, os.WriteFile(fixture, raw, 0o644))
	env := newCLIEnv(t, fixture)

	stdout, stderr, code := env.run("--verbose", "branches", "acme/widgets")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stderr, "default branch lookup failed")
	assert.Contains(t, stdout, "main")
	assert.NotRegexp(t, `(?m)^\*`, stdout, "no default branch known, so none is current")
}

func TestChecks(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	resp, code := env.runJSON("checks", "acme/widgets")
	require.Equal(t, ExitSuccess, code)

	checks := resp.Data.(map[string]any)["checks"].([]any)
	byBranch := map[string]string{}
	for _, c := range checks {
		m := c.(map[string]any)
		byBranch[m["branch"].(string)] = m["overall_status"].(string)
	}
	assert.Equal(t, map[string]string{"main": "success", "feat/sprockets": "no-checks"}, byBranch)
}

func TestChecks_WatchStopsAfterLimit(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	stdout, stderr, code := env.run("checks", "acme/widgets", "--watch", "--for", "50ms")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "2/2 passed")
}

func TestOfflineRejectsMutations(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	_, _, code := env.run("--offline", "pr", "draft", "acme/widgets", "1")
	assert.Equal(t, ExitCommandError, code)
}

func TestMissingConfig(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")
	env.config = filepath.Join(t.TempDir(), "absent.yaml")

	resp, code := env.runJSON("repos")
	assert.Equal(t, ExitCommandError, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeConfig, resp.Error.Code)
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t, "testdata/widgets.yaml")

	_, _, code := env.run("--format", "yaml", "repos")
	assert.Equal(t, ExitCommandError, code)
}
