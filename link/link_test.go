package link

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/otr-discord-bot/linkbridge/crypto"
	"github.com/otr-discord-bot/linkbridge/osuapi"
	"github.com/otr-discord-bot/linkbridge/protocol"
)

const testSecret = "test-bot-secret"

// fakeWorker answers status polls, checking each one is correctly signed.
type fakeWorker struct {
	t       *testing.T
	signer  *crypto.Signer
	respond func(n int) (int, string)
	delay   time.Duration

	mu     sync.Mutex
	polls  int
	nonces []string
}

func (f *fakeWorker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != protocol.StatusPath {
		f.t.Errorf("unexpected path %s", r.URL.Path)
	}
	nonce := r.URL.Query().Get("nonce")
	ts, err := strconv.ParseInt(r.Header.Get(protocol.TimestampHeader), 10, 64)
	if err != nil || !f.signer.Verify(protocol.PollMessage(nonce, ts), r.Header.Get(protocol.SignatureHeader)) {
		f.t.Errorf("poll for %q not correctly signed", nonce)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	f.polls++
	n := f.polls
	f.nonces = append(f.nonces, nonce)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}
	code, body := f.respond(n)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (f *fakeWorker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func pending(int) (int, string) { return http.StatusOK, `{"complete":false}` }

type savedLink struct {
	chatID string
	res    protocol.LinkResult
}

type fakeAccounts struct {
	mu    sync.Mutex
	saved []savedLink
	err   error
}

func (a *fakeAccounts) SaveLink(_ context.Context, chatID string, res protocol.LinkResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, savedLink{chatID, res})
	return a.err
}

func newTestInitiator(t *testing.T, respond func(int) (int, string), ttl, interval time.Duration) (*Initiator, *fakeWorker) {
	t.Helper()
	signer, err := crypto.NewSigner(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	fw := &fakeWorker{t: t, signer: signer, respond: respond}
	srv := httptest.NewServer(fw)
	t.Cleanup(srv.Close)

	in, err := NewInitiator(Config{
		WorkerURL:    srv.URL + "/",
		Signer:       signer,
		Authorizer:   osuapi.New("1234", "secret", srv.URL+protocol.CallbackPath, "", nil),
		HTTPClient:   srv.Client(),
		PollInterval: interval,
		AttemptTTL:   ttl,
	})
	if err != nil {
		t.Fatalf("NewInitiator() error = %v", err)
	}
	return in, fw
}

func TestNewInitiatorRequiresDependencies(t *testing.T) {
	signer, _ := crypto.NewSigner(testSecret)
	auth := osuapi.New("1", "s", "https://w/callback", "", nil)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no worker url", Config{Signer: signer, Authorizer: auth}},
		{"no signer", Config{WorkerURL: "https://w", Authorizer: auth}},
		{"no authorizer", Config{WorkerURL: "https://w", Signer: signer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewInitiator(tt.cfg); err == nil {
				t.Error("NewInitiator() should fail")
			}
		})
	}
}

func TestMaxPolls(t *testing.T) {
	tests := []struct {
		ttl, interval time.Duration
		want          int
	}{
		{protocol.AttemptTTL, protocol.PollInterval, 119},
		{60 * time.Second, 5 * time.Second, 11},
		{62 * time.Second, 5 * time.Second, 11},
		{5 * time.Second, 5 * time.Second, 1},
		{time.Second, 0, 1},
	}
	for _, tt := range tests {
		if got := MaxPolls(tt.ttl, tt.interval); got != tt.want {
			t.Errorf("MaxPolls(%v, %v) = %d, want %d", tt.ttl, tt.interval, got, tt.want)
		}
	}
}

func TestStartIsIdempotentPerRequester(t *testing.T) {
	in, _ := newTestInitiator(t, pending, time.Minute, time.Second)
	before := time.Now()

	first, fresh, err := in.Start("user-1")
	if err != nil || !fresh {
		t.Fatalf("Start() fresh = %v, err = %v", fresh, err)
	}
	again, fresh, err := in.Start("user-1")
	if err != nil || fresh {
		t.Fatalf("second Start() fresh = %v, err = %v; want existing attempt", fresh, err)
	}
	if again.URL != first.URL || again.State.Nonce != first.State.Nonce {
		t.Errorf("second Start() returned a different attempt")
	}

	other, fresh, _ := in.Start("user-2")
	if !fresh || other.State.Nonce == first.State.Nonce {
		t.Errorf("different requester should get a new nonce")
	}

	exp := first.State.ExpiresAt()
	if exp.Before(before.Add(time.Minute-time.Second)) || exp.After(time.Now().Add(time.Minute+time.Second)) {
		t.Errorf("expiry %v not about one minute from now", exp)
	}

	u, err := url.Parse(first.URL)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	if state != first.Token {
		t.Errorf("URL state = %q, want token %q", state, first.Token)
	}
	decoded, err := protocol.DecodeState(state)
	if err != nil {
		t.Fatalf("DecodeState() error = %v", err)
	}
	if decoded.Nonce != first.State.Nonce || decoded.Exp != first.State.Exp || decoded.Sig != "" {
		t.Errorf("decoded state = %+v, want %+v unsigned", decoded, first.State)
	}
}

func TestStartSignsStateWhenEnabled(t *testing.T) {
	in, _ := newTestInitiator(t, pending, time.Minute, time.Second)
	in.signState = true

	att, _, err := in.Start("user-1")
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := protocol.DecodeState(att.Token)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.VerifySignature(in.signer.(*crypto.Signer)) {
		t.Error("signed state failed verification")
	}
}

func TestStartRejectsEmptyRequester(t *testing.T) {
	in, _ := newTestInitiator(t, pending, time.Minute, time.Second)
	if _, _, err := in.Start(""); err == nil {
		t.Error("Start(\"\") should fail")
	}
}

func TestAwaitReturnsResult(t *testing.T) {
	respond := func(n int) (int, string) {
		if n < 3 {
			return pending(n)
		}
		return http.StatusOK, `{"complete":true,"data":{"osuId":4504101,"username":"WhiteCat"}}`
	}
	in, fw := newTestInitiator(t, respond, time.Second, 5*time.Millisecond)

	att, _, _ := in.Start("user-1")
	res, err := in.Await(context.Background(), att.State.Nonce, "user-1")
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.OsuID != 4504101 || res.Username != "WhiteCat" {
		t.Errorf("Await() = %+v", res)
	}
	if got := fw.count(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
	for _, n := range fw.nonces {
		if n != att.State.Nonce {
			t.Errorf("polled nonce %q, want %q", n, att.State.Nonce)
		}
	}
	if _, held := in.Registry().Lookup("user-1"); held {
		t.Error("registry slot not released after success")
	}
}

func TestAwaitTreatsErrorsAsNotYet(t *testing.T) {
	respond := func(n int) (int, string) {
		switch n {
		case 1:
			return http.StatusInternalServerError, "boom"
		case 2:
			return http.StatusOK, "not json"
		case 3:
			return http.StatusOK, `{"complete":true}`
		default:
			return http.StatusOK, `{"complete":true,"data":{"osuId":7,"username":"x"}}`
		}
	}
	in, fw := newTestInitiator(t, respond, time.Second, 5*time.Millisecond)

	att, _, _ := in.Start("user-1")
	res, err := in.Await(context.Background(), att.State.Nonce, "user-1")
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.OsuID != 7 {
		t.Errorf("Await() = %+v", res)
	}
	if got := fw.count(); got != 4 {
		t.Errorf("polls = %d, want 4", got)
	}
}

func TestAwaitExhaustionClearsSlot(t *testing.T) {
	// 60 units of TTL at 5 units per poll, scaled to tens of milliseconds.
	in, fw := newTestInitiator(t, pending, 600*time.Millisecond, 50*time.Millisecond)

	att, _, _ := in.Start("user-1")
	res, err := in.Await(context.Background(), att.State.Nonce, "user-1")
	if !errors.Is(err, ErrPollExhausted) {
		t.Fatalf("Await() error = %v, want ErrPollExhausted", err)
	}
	if res != nil {
		t.Errorf("Await() result = %+v, want nil", res)
	}
	if got := fw.count(); got != 11 {
		t.Errorf("polls = %d, want 11", got)
	}
	if _, held := in.Registry().Lookup("user-1"); held {
		t.Error("registry slot not released after exhaustion")
	}
	if _, fresh, _ := in.Start("user-1"); !fresh {
		t.Error("requester cannot start again after exhaustion")
	}
}

func TestAwaitEndsWithAttemptWhenWorkerIsSlow(t *testing.T) {
	// Each poll outlasts the whole attempt, so the poll budget alone would
	// keep Await running long after the attempt expired.
	in, fw := newTestInitiator(t, pending, 100*time.Millisecond, 5*time.Millisecond)
	fw.delay = time.Second

	att, _, _ := in.Start("user-1")
	done := make(chan error, 1)
	start := time.Now()
	go func() {
		_, err := in.Await(context.Background(), att.State.Nonce, "user-1")
		done <- err
	}()

	time.Sleep(time.Until(att.State.ExpiresAt().Add(30 * time.Millisecond)))
	if _, fresh, _ := in.Start("user-1"); fresh {
		select {
		case <-done:
		default:
			t.Fatal("second attempt started while the first was still polling")
		}
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrPollExhausted) {
			t.Errorf("Await() error = %v, want ErrPollExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await() kept polling past the attempt expiry")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Await() took %v for a 100ms attempt", elapsed)
	}
}

func TestAwaitStopsOnCancel(t *testing.T) {
	in, _ := newTestInitiator(t, pending, time.Minute, 10*time.Millisecond)

	att, _, _ := in.Start("user-1")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(25*time.Millisecond, cancel)

	start := time.Now()
	_, err := in.Await(ctx, att.State.Nonce, "user-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Await() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Await() did not stop promptly on cancel")
	}
	if _, held := in.Registry().Lookup("user-1"); held {
		t.Error("registry slot not released after cancel")
	}
}

func TestLinkPersistsResult(t *testing.T) {
	respond := func(int) (int, string) {
		return http.StatusOK, `{"complete":true,"data":{"osuId":2,"username":"peppy"}}`
	}
	in, _ := newTestInitiator(t, respond, time.Second, 5*time.Millisecond)
	accounts := &fakeAccounts{}
	in.accounts = accounts

	var notified []Attempt
	res, err := in.Link(context.Background(), "twitch:42", func(_ context.Context, a Attempt, fresh bool) error {
		if !fresh {
			t.Error("first Link() should see a fresh attempt")
		}
		notified = append(notified, a)
		return nil
	})
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if res.Username != "peppy" {
		t.Errorf("Link() = %+v", res)
	}
	if len(notified) != 1 || notified[0].URL == "" {
		t.Fatalf("notify calls = %+v", notified)
	}
	if len(accounts.saved) != 1 || accounts.saved[0].chatID != "twitch:42" || accounts.saved[0].res.OsuID != 2 {
		t.Errorf("saved = %+v", accounts.saved)
	}
}

func TestLinkSaveFailure(t *testing.T) {
	respond := func(int) (int, string) {
		return http.StatusOK, `{"complete":true,"data":{"osuId":2,"username":"peppy"}}`
	}
	in, _ := newTestInitiator(t, respond, time.Second, 5*time.Millisecond)
	in.accounts = &fakeAccounts{err: errors.New("db down")}

	res, err := in.Link(context.Background(), "twitch:42", func(context.Context, Attempt, bool) error { return nil })
	if err == nil {
		t.Fatal("Link() should report the save failure")
	}
	if res == nil || res.OsuID != 2 {
		t.Errorf("Link() result = %+v, want the received result", res)
	}
}

func TestLinkWhileInProgress(t *testing.T) {
	in, fw := newTestInitiator(t, pending, time.Minute, time.Second)
	first, _, _ := in.Start("user-1")

	var got Attempt
	_, err := in.Link(context.Background(), "user-1", func(_ context.Context, a Attempt, fresh bool) error {
		if fresh {
			t.Error("attempt should not be fresh")
		}
		got = a
		return nil
	})
	if !errors.Is(err, ErrInProgress) {
		t.Fatalf("Link() error = %v, want ErrInProgress", err)
	}
	if got.URL != first.URL {
		t.Errorf("notify got a different attempt")
	}
	if fw.count() != 0 {
		t.Error("Link() polled for a flow it does not own")
	}
	if held, ok := in.Registry().Lookup("user-1"); !ok || held.Nonce != first.State.Nonce {
		t.Error("running attempt lost its slot")
	}
}

func TestLinkNotifyFailureReleasesSlot(t *testing.T) {
	in, _ := newTestInitiator(t, pending, time.Minute, time.Second)

	_, err := in.Link(context.Background(), "user-1", func(context.Context, Attempt, bool) error {
		return errors.New("whisper failed")
	})
	if err == nil {
		t.Fatal("Link() should fail when the link cannot be delivered")
	}
	if _, held := in.Registry().Lookup("user-1"); held {
		t.Error("slot kept after failed delivery")
	}
}
