package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forgecache/internal/domain"
)

func TestHumanMessage(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		err  error
		want string
	}{
		{"review 422", OpApprove, &Error{Status: 422}, "pull request was already reviewed or cannot be reviewed"},
		{"merge 405", OpMerge, &Error{Status: 405}, "pull request is not mergeable"},
		{"merge 409", OpMerge, &Error{Status: 409}, "the head branch was modified; refresh and try again"},
		{"forbidden", OpCloseIssues, &Error{Status: 403}, "you do not have permission to close these issues"},
		{"unauthorized", OpAddLabels, &Error{Status: 401}, "your session has expired; sign in again"},
		{"server", OpMerge, &Error{Status: 502}, "the server is having trouble; try again later"},
		{"network", OpToggleDraft, &Error{Err: errors.New("dial tcp")}, "could not reach the server to change the draft state"},
		{"other with message", OpReopenIssues, &Error{Status: 418, Message: "teapot"}, "could not reopen these issues: teapot"},
		{"other without message", OpReopenIssues, &Error{Status: 418}, "could not reopen these issues (HTTP 418)"},
		{"plain error", OpMerge, errors.New("boom"), "could not merge this pull request: boom"},
		{"wrapped", OpApprove, fmt.Errorf("approve: %w", &Error{Status: 422}), "pull request was already reviewed or cannot be reviewed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HumanMessage(tt.op, tt.err))
		})
	}
	assert.Empty(t, HumanMessage(OpMerge, nil))
}

func TestStatusHelpers(t *testing.T) {
	err := fmt.Errorf("list: %w", &Error{Method: "ListIssues", Status: 404})
	assert.Equal(t, 404, StatusOf(err))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsUnauthorized(err))
	assert.Equal(t, 0, StatusOf(errors.New("x")))
	assert.Equal(t, "ListIssues: HTTP 404", errors.Unwrap(err).Error())
}

func TestListState(t *testing.T) {
	assert.Equal(t, ListOpen, ParseListState(""))
	assert.Equal(t, ListAll, ParseListState("all"))
	assert.True(t, ListAll.Matches(domain.StateClosed))
	assert.False(t, ListOpen.Matches(domain.StateClosed))
	assert.True(t, ListClosed.Matches(domain.StateClosed))
}

func TestFirstOf(t *testing.T) {
	t.Setenv("FORGECACHE_TEST_TOKEN", "")
	src := FirstOf{
		EnvCredentials{TokenEnv: "FORGECACHE_TEST_TOKEN", Login: "alice"},
		StaticCredentials{Token: "t0k"},
	}
	c, err := src.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credentials{Token: "t0k", Login: "alice"}, c)

	c, err = FirstOf{StaticCredentials{}}.Credentials(context.Background())
	require.NoError(t, err)
	assert.False(t, c.Authenticated())
}
