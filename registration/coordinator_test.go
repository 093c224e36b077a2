package registration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokenService implements interfaces.TokenService with canned results.
// Tests that need to control sequencing set release before starting and
// close it to let IssueToken return.
type fakeTokenService struct {
	token   interfaces.AccessToken
	err     error
	session bool
	release chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	calls  int
	hint   string
	scopes []string
}

func newFakeTokenService(token interfaces.AccessToken, err error) *fakeTokenService {
	return &fakeTokenService{token: token, err: err, session: true, entered: make(chan struct{})}
}

func (f *fakeTokenService) HasSession() bool { return f.session }

func (f *fakeTokenService) IssueToken(_ context.Context, usernameHint string, scopes []string) (interfaces.AccessToken, error) {
	f.mu.Lock()
	f.calls++
	if f.calls == 1 {
		close(f.entered)
	}
	f.hint = usernameHint
	f.scopes = scopes
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	return f.token, f.err
}

func (f *fakeTokenService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTokenService) lastRequest() (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hint, f.scopes
}

// fakeUserInfoSource implements interfaces.UserInfoSource, blocking on
// release when set.
type fakeUserInfoSource struct {
	info    interfaces.UserInfo
	err     error
	release chan struct{}
	entered chan struct{}

	mu    sync.Mutex
	calls int
	token interfaces.AccessToken
}

func newFakeUserInfoSource(info interfaces.UserInfo, err error) *fakeUserInfoSource {
	return &fakeUserInfoSource{info: info, err: err, entered: make(chan struct{})}
}

func (f *fakeUserInfoSource) FetchUserInfo(_ context.Context, token interfaces.AccessToken) (interfaces.UserInfo, error) {
	f.mu.Lock()
	f.calls++
	if f.calls == 1 {
		close(f.entered)
	}
	f.token = token
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	return f.info, f.err
}

func (f *fakeUserInfoSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeUserInfoSource) lastToken() interfaces.AccessToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// fakeTokenExchanger implements interfaces.TokenExchanger.
type fakeTokenExchanger struct {
	token interfaces.AccessToken
	err   error

	mu      sync.Mutex
	calls   int
	refresh string
	scopes  []string
}

func (f *fakeTokenExchanger) ExchangeRefreshToken(_ context.Context, refreshToken string, scopes []string) (interfaces.AccessToken, error) {
	f.mu.Lock()
	f.calls++
	f.refresh = refreshToken
	f.scopes = scopes
	f.mu.Unlock()
	return f.token, f.err
}

func (f *fakeTokenExchanger) lastRequest() (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh, f.scopes
}

// fakePolicyClient implements interfaces.PolicyClient with a real observer
// set so tests can drive notifications and inspect observer cleanup.
type fakePolicyClient struct {
	registerCh chan struct{}
	onRegister func()

	mu         sync.Mutex
	registered bool
	lastErr    error
	observers  []interfaces.PolicyClientObserver
	registers  int
	regType    interfaces.RegistrationType
	regToken   interfaces.AccessToken
}

func newFakePolicyClient() *fakePolicyClient {
	return &fakePolicyClient{registerCh: make(chan struct{}, 4)}
}

func (f *fakePolicyClient) Registered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered
}

func (f *fakePolicyClient) setRegistered(v bool) {
	f.mu.Lock()
	f.registered = v
	f.mu.Unlock()
}

func (f *fakePolicyClient) AddObserver(o interfaces.PolicyClientObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, o)
}

func (f *fakePolicyClient) RemoveObserver(o interfaces.PolicyClientObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.observers {
		if existing == o {
			f.observers = append(f.observers[:i], f.observers[i+1:]...)
			return
		}
	}
}

func (f *fakePolicyClient) Register(registrationType interfaces.RegistrationType, token interfaces.AccessToken) {
	f.mu.Lock()
	f.registers++
	f.regType = registrationType
	f.regToken = token
	hook := f.onRegister
	f.mu.Unlock()

	f.registerCh <- struct{}{}
	if hook != nil {
		hook()
	}
}

func (f *fakePolicyClient) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakePolicyClient) registerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registers
}

func (f *fakePolicyClient) lastRegistration() (interfaces.RegistrationType, interfaces.AccessToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regType, f.regToken
}

func (f *fakePolicyClient) observing(o interfaces.PolicyClientObserver) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.observers {
		if existing == o {
			return true
		}
	}
	return false
}

// snapshot copies the observer set so notifications run without the lock,
// matching how a real client must behave.
func (f *fakePolicyClient) snapshot() []interfaces.PolicyClientObserver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.PolicyClientObserver(nil), f.observers...)
}

func (f *fakePolicyClient) notifyStateChanged() {
	for _, o := range f.snapshot() {
		o.OnRegistrationStateChanged(f)
	}
}

func (f *fakePolicyClient) notifyClientError(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
	for _, o := range f.snapshot() {
		o.OnClientError(f)
	}
}

func (f *fakePolicyClient) notifyPolicyFetched() {
	for _, o := range f.snapshot() {
		o.OnPolicyFetched(f)
	}
}

// doneRecorder counts completion callback invocations.
type doneRecorder struct {
	ch chan struct{}

	mu    sync.Mutex
	count int
}

func newDoneRecorder() *doneRecorder {
	return &doneRecorder{ch: make(chan struct{}, 4)}
}

func (d *doneRecorder) callback() {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
	d.ch <- struct{}{}
}

func (d *doneRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-d.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the completion callback")
	}
}

func (d *doneRecorder) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Full happy path: hosted-domain user registers and the callback fires once.
func TestCoordinator_RegistersHostedDomainUser(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{Email: "alice@co.com", HostedDomain: "co.com"}, nil)
	client := newFakePolicyClient()
	client.onRegister = func() {
		client.setRegistered(true)
		client.notifyStateChanged()
	}
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "alice@co.com", done.callback)
	done.wait(t)

	assert.Equal(t, 1, done.calls())
	assert.True(t, client.Registered())
	assert.Equal(t, 1, client.registerCount())

	regType, regToken := client.lastRegistration()
	assert.Equal(t, interfaces.RegistrationTypeUser, regType)
	assert.Equal(t, interfaces.AccessToken("tok123"), regToken)

	hint, scopes := service.lastRequest()
	assert.Equal(t, "alice@co.com", hint)
	assert.Equal(t, interfaces.RegistrationScopes(), scopes)
	assert.Equal(t, interfaces.AccessToken("tok123"), userInfo.lastToken())

	// The observer registration must not outlive the attempt.
	assert.False(t, client.observing(coord))
}

// An empty token ends the attempt before the identity lookup starts.
func TestCoordinator_EmptyTokenEndsAttempt(t *testing.T) {
	service := newFakeTokenService("", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{HostedDomain: "co.com"}, nil)
	client := newFakePolicyClient()
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "alice@co.com", done.callback)
	done.wait(t)

	assert.Equal(t, 1, done.calls())
	assert.Equal(t, 0, userInfo.callCount())
	assert.Equal(t, 0, client.registerCount())
	assert.False(t, client.Registered())
	assert.False(t, client.observing(coord))
}

// An account without a hosted domain is skipped without registering.
func TestCoordinator_SkipsUnmanagedAccount(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{Email: "bob@example.org"}, nil)
	client := newFakePolicyClient()
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "bob@example.org", done.callback)
	done.wait(t)

	assert.Equal(t, 1, done.calls())
	assert.Equal(t, 1, userInfo.callCount())
	assert.Equal(t, 0, client.registerCount())
	assert.False(t, client.Registered())
	assert.False(t, client.observing(coord))
}

// ForceLoad registers even when the identity document has no hosted domain.
func TestCoordinator_ForceLoadBypassesDomainGate(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{Email: "bob@example.org"}, nil)
	client := newFakePolicyClient()
	client.onRegister = func() {
		client.setRegistered(true)
		client.notifyStateChanged()
	}
	done := newDoneRecorder()

	request := interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser, ForceLoad: true}
	coord := NewCoordinator(client, request, nil, userInfo, testLogger())
	coord.StartRegistration(service, "bob@example.org", done.callback)
	done.wait(t)

	assert.Equal(t, 1, done.calls())
	assert.Equal(t, 1, client.registerCount())
	assert.True(t, client.Registered())
}

// A client error ends the attempt; policy fetch notifications and late
// duplicates never produce a second callback.
func TestCoordinator_ClientErrorEndsAttemptOnce(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{Email: "alice@co.com", HostedDomain: "co.com"}, nil)
	client := newFakePolicyClient()
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "alice@co.com", done.callback)
	waitSignal(t, client.registerCh, "the register call")

	// Policy fetch notifications are ignored by the coordinator.
	client.notifyPolicyFetched()
	assert.Equal(t, 0, done.calls())

	client.notifyClientError(errors.New("device management server rejected the request"))
	done.wait(t)
	assert.Equal(t, 1, done.calls())
	assert.False(t, client.observing(coord))

	// Late notifications against the completed coordinator are dropped.
	client.notifyStateChanged()
	coord.OnClientError(client)
	coord.OnRegistrationStateChanged(client)
	assert.Equal(t, 1, done.calls())
}

// An identity lookup failure ends the attempt without registering.
func TestCoordinator_IdentityLookupFailureEndsAttempt(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{}, errors.New("userinfo endpoint returned 500"))
	client := newFakePolicyClient()
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "alice@co.com", done.callback)
	done.wait(t)

	assert.Equal(t, 1, done.calls())
	assert.Equal(t, 0, client.registerCount())
	assert.False(t, client.observing(coord))
}

// Close mid-attempt detaches the observer and suppresses the callback, and
// the late token delivery is dropped.
func TestCoordinator_CloseMidAttempt(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	service.release = make(chan struct{})
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{HostedDomain: "co.com"}, nil)
	client := newFakePolicyClient()
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "alice@co.com", done.callback)
	waitSignal(t, service.entered, "the token request")
	require.True(t, client.observing(coord))

	coord.Close()
	assert.False(t, client.observing(coord))

	// Let the in-flight token request finish against the closed coordinator.
	close(service.release)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, done.calls())
	assert.Equal(t, 0, userInfo.callCount())
	assert.Equal(t, 0, client.registerCount())

	// Close is idempotent.
	coord.Close()
	assert.Equal(t, 0, done.calls())
}

// Exactly one helper is outstanding at any point in the sequence.
func TestCoordinator_SequencesOneHelperAtATime(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	service.release = make(chan struct{})
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{HostedDomain: "co.com"}, nil)
	userInfo.release = make(chan struct{})
	client := newFakePolicyClient()
	client.onRegister = func() {
		client.setRegistered(true)
		client.notifyStateChanged()
	}
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "alice@co.com", done.callback)

	waitSignal(t, service.entered, "the token request")
	assert.Equal(t, 0, userInfo.callCount())
	assert.Equal(t, 0, client.registerCount())

	close(service.release)
	waitSignal(t, userInfo.entered, "the identity lookup")
	assert.Equal(t, 0, client.registerCount())

	close(userInfo.release)
	done.wait(t)
	assert.Equal(t, 1, client.registerCount())
	assert.Equal(t, 1, done.calls())
}

// The refresh-token entry point drives the exchange strategy.
func TestCoordinator_RefreshTokenStrategy(t *testing.T) {
	exchanger := &fakeTokenExchanger{token: "tok456"}
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{Email: "alice@co.com", HostedDomain: "co.com"}, nil)
	client := newFakePolicyClient()
	client.onRegister = func() {
		client.setRegistered(true)
		client.notifyStateChanged()
	}
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeDevice}, exchanger, userInfo, testLogger())
	coord.StartRegistrationWithRefreshToken("refresh-1", done.callback)
	done.wait(t)

	assert.Equal(t, 1, done.calls())
	assert.True(t, client.Registered())

	refresh, scopes := exchanger.lastRequest()
	assert.Equal(t, "refresh-1", refresh)
	assert.Equal(t, interfaces.RegistrationScopes(), scopes)

	regType, regToken := client.lastRegistration()
	assert.Equal(t, interfaces.RegistrationTypeDevice, regType)
	assert.Equal(t, interfaces.AccessToken("tok456"), regToken)
}

// A client registered out of band between the token and lookup steps ends
// the attempt without a register call.
func TestCoordinator_OutOfBandRegistrationSkipsRegister(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{HostedDomain: "co.com"}, nil)
	userInfo.release = make(chan struct{})
	client := newFakePolicyClient()
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "alice@co.com", done.callback)
	waitSignal(t, userInfo.entered, "the identity lookup")

	client.setRegistered(true)
	close(userInfo.release)
	done.wait(t)

	assert.Equal(t, 1, done.calls())
	assert.Equal(t, 0, client.registerCount())
	assert.False(t, client.observing(coord))
}

func TestCoordinator_PanicsWhenClientAlreadyRegistered(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{}, nil)
	client := newFakePolicyClient()
	client.setRegistered(true)

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	require.Panics(t, func() {
		coord.StartRegistration(service, "alice@co.com", func() {})
	})
}

func TestCoordinator_PanicsOnSecondStart(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	service.release = make(chan struct{})
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{}, nil)
	client := newFakePolicyClient()
	done := newDoneRecorder()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.StartRegistration(service, "alice@co.com", done.callback)
	waitSignal(t, service.entered, "the token request")

	require.Panics(t, func() {
		coord.StartRegistration(service, "alice@co.com", done.callback)
	})

	// The first attempt is unaffected and still completes.
	close(service.release)
	done.wait(t)
	assert.Equal(t, 1, done.calls())
}

func TestCoordinator_PanicsAfterClose(t *testing.T) {
	service := newFakeTokenService("tok123", nil)
	userInfo := newFakeUserInfoSource(interfaces.UserInfo{}, nil)
	client := newFakePolicyClient()

	coord := NewCoordinator(client, interfaces.RegistrationRequest{Type: interfaces.RegistrationTypeUser}, nil, userInfo, testLogger())
	coord.Close()

	require.Panics(t, func() {
		coord.StartRegistration(service, "alice@co.com", func() {})
	})
}
