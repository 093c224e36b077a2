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

// tokenRecorder captures the acquirer's single delivery.
type tokenRecorder struct {
	ch chan interfaces.AccessToken
}

func newTokenRecorder() *tokenRecorder {
	return &tokenRecorder{ch: make(chan interfaces.AccessToken, 1)}
}

func (r *tokenRecorder) deliver(token interfaces.AccessToken) {
	r.ch <- token
}

func (r *tokenRecorder) wait(t *testing.T) interfaces.AccessToken {
	t.Helper()
	select {
	case token := <-r.ch:
		return token
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for token delivery")
		return ""
	}
}

func TestServiceTokenAcquirer_DeliversToken(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	rec := newTokenRecorder()

	acquirer := NewServiceTokenAcquirer(service, "alice@co.com", testLogger())
	acquirer.Start(context.Background(), rec.deliver)

	assert.Equal(t, interfaces.AccessToken("tok123"), rec.wait(t))

	hint, scopes := service.lastRequest()
	assert.Equal(t, "alice@co.com", hint)
	assert.Equal(t, interfaces.RegistrationScopes(), scopes)
}

func TestServiceTokenAcquirer_DeliversEmptyTokenOnError(t *testing.T) {
	service := newFakeTokenService("", errors.New("provider unavailable"))
	rec := newTokenRecorder()

	acquirer := NewServiceTokenAcquirer(service, "alice@co.com", testLogger())
	acquirer.Start(context.Background(), rec.deliver)

	assert.Equal(t, interfaces.AccessToken(""), rec.wait(t))
}

func TestServiceTokenAcquirer_AllowsEmptyHintWithSession(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	service.session = true
	rec := newTokenRecorder()

	acquirer := NewServiceTokenAcquirer(service, "", testLogger())
	acquirer.Start(context.Background(), rec.deliver)

	assert.Equal(t, interfaces.AccessToken("tok123"), rec.wait(t))

	hint, _ := service.lastRequest()
	assert.Equal(t, "", hint)
}

func TestServiceTokenAcquirer_PanicsWithoutHintOrSession(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	service.session = false

	acquirer := NewServiceTokenAcquirer(service, "", testLogger())
	require.Panics(t, func() {
		acquirer.Start(context.Background(), func(interfaces.AccessToken) {})
	})
	assert.Equal(t, 0, service.callCount())
}

func TestServiceTokenAcquirer_PanicsOnSecondStart(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	rec := newTokenRecorder()

	acquirer := NewServiceTokenAcquirer(service, "alice@co.com", testLogger())
	acquirer.Start(context.Background(), rec.deliver)
	rec.wait(t)

	require.Panics(t, func() {
		acquirer.Start(context.Background(), rec.deliver)
	})
}

func TestRefreshTokenAcquirer_DeliversToken(t *testing.T) {
	exchanger := &fakeTokenExchanger{token: "tok456"}
	rec := newTokenRecorder()

	acquirer := NewRefreshTokenAcquirer(exchanger, "refresh-1", testLogger())
	acquirer.Start(context.Background(), rec.deliver)

	assert.Equal(t, interfaces.AccessToken("tok456"), rec.wait(t))

	refresh, scopes := exchanger.lastRequest()
	assert.Equal(t, "refresh-1", refresh)
	assert.Equal(t, interfaces.RegistrationScopes(), scopes)
}

func TestRefreshTokenAcquirer_DeliversEmptyTokenOnError(t *testing.T) {
	exchanger := &fakeTokenExchanger{err: errors.New("invalid_grant")}
	rec := newTokenRecorder()

	acquirer := NewRefreshTokenAcquirer(exchanger, "refresh-1", testLogger())
	acquirer.Start(context.Background(), rec.deliver)

	assert.Equal(t, interfaces.AccessToken(""), rec.wait(t))
}

func TestRefreshTokenAcquirer_PanicsOnSecondStart(t *testing.T) {
	exchanger := &fakeTokenExchanger{token: "tok456"}
	rec := newTokenRecorder()

	acquirer := NewRefreshTokenAcquirer(exchanger, "refresh-1", testLogger())
	acquirer.Start(context.Background(), rec.deliver)
	rec.wait(t)

	require.Panics(t, func() {
		acquirer.Start(context.Background(), rec.deliver)
	})
}
