package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupResult struct {
	info interfaces.HostedDomainInfo
	err  error
}

// lookupRecorder captures the lookup's single delivery.
type lookupRecorder struct {
	ch chan lookupResult
}

func newLookupRecorder() *lookupRecorder {
	return &lookupRecorder{ch: make(chan lookupResult, 1)}
}

func (r *lookupRecorder) deliver(info interfaces.HostedDomainInfo, err error) {
	r.ch <- lookupResult{info: info, err: err}
}

func (r *lookupRecorder) wait(t *testing.T) lookupResult {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lookup delivery")
		return lookupResult{}
	}
}

func TestIdentityLookup_HostedDomainPresent(t *testing.T) {
	source := newFakeUserInfoSource(interfaces.UserInfo{Email: "alice@co.com", HostedDomain: "Co.COM"}, nil)
	rec := newLookupRecorder()

	lookup := NewIdentityLookupClient(source, testLogger())
	lookup.Start(context.Background(), "tok123", rec.deliver)

	res := rec.wait(t)
	require.NoError(t, res.err)
	assert.True(t, res.info.Present)
	assert.Equal(t, interfaces.Domain("co.com"), res.info.Domain)
	assert.Equal(t, interfaces.AccessToken("tok123"), source.lastToken())
}

func TestIdentityLookup_NoHostedDomain(t *testing.T) {
	source := newFakeUserInfoSource(interfaces.UserInfo{Email: "bob@example.org"}, nil)
	rec := newLookupRecorder()

	lookup := NewIdentityLookupClient(source, testLogger())
	lookup.Start(context.Background(), "tok123", rec.deliver)

	res := rec.wait(t)
	require.NoError(t, res.err)
	assert.False(t, res.info.Present)
	assert.Empty(t, res.info.Domain)
}

// A marker that is not a well-formed domain still counts as present.
func TestIdentityLookup_MalformedHostedDomainCountsAsPresent(t *testing.T) {
	source := newFakeUserInfoSource(interfaces.UserInfo{HostedDomain: "not a domain!"}, nil)
	rec := newLookupRecorder()

	lookup := NewIdentityLookupClient(source, testLogger())
	lookup.Start(context.Background(), "tok123", rec.deliver)

	res := rec.wait(t)
	require.NoError(t, res.err)
	assert.True(t, res.info.Present)
	assert.Empty(t, res.info.Domain)
}

func TestIdentityLookup_FetchFailure(t *testing.T) {
	fetchErr := errors.New("userinfo endpoint returned 500")
	source := newFakeUserInfoSource(interfaces.UserInfo{}, fetchErr)
	rec := newLookupRecorder()

	lookup := NewIdentityLookupClient(source, testLogger())
	lookup.Start(context.Background(), "tok123", rec.deliver)

	res := rec.wait(t)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, fetchErr)
	assert.False(t, res.info.Present)
	assert.Empty(t, res.info.Domain)
}

func TestIdentityLookup_PanicsWithoutToken(t *testing.T) {
	source := newFakeUserInfoSource(interfaces.UserInfo{}, nil)

	lookup := NewIdentityLookupClient(source, testLogger())
	require.Panics(t, func() {
		lookup.Start(context.Background(), "", func(interfaces.HostedDomainInfo, error) {})
	})
	assert.Equal(t, 0, source.callCount())
}

func TestIdentityLookup_PanicsOnSecondStart(t *testing.T) {
	source := newFakeUserInfoSource(interfaces.UserInfo{HostedDomain: "co.com"}, nil)
	rec := newLookupRecorder()

	lookup := NewIdentityLookupClient(source, testLogger())
	lookup.Start(context.Background(), "tok123", rec.deliver)
	rec.wait(t)

	require.Panics(t, func() {
		lookup.Start(context.Background(), "tok123", rec.deliver)
	})
}
