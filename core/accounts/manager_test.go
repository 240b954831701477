package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/storage"
	"github.com/leofalp/aimux/providers/storage/inmemory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestManager(t *testing.T, store storage.Store) *Manager {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	counter := 0
	return New(store,
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			counter++
			return fmt.Sprintf("acct-%02d", counter)
		}),
	)
}

func assertSingleDefault(t *testing.T, m *Manager, provider string) {
	t.Helper()
	defaults := 0
	for _, account := range m.ListAccounts(provider) {
		if account.IsDefault {
			defaults++
		}
	}
	if len(m.ListAccounts(provider)) > 0 && defaults != 1 {
		t.Fatalf("provider %q has %d defaults, want exactly 1", provider, defaults)
	}
}

func TestAddAccount_FirstBecomesDefault(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	m := newTestManager(t, store)

	first, err := m.AddAccount(ctx, "openai", Credential{APIKey: "sk-one"}, "Personal")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}
	second, err := m.AddAccount(ctx, "openai", Credential{APIKey: "sk-two"}, "")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}

	if !first.IsDefault || second.IsDefault {
		t.Errorf("defaults = %v/%v, want true/false", first.IsDefault, second.IsDefault)
	}
	if first.AuthType != AuthTypeAPIKey || first.Status != StatusActive {
		t.Errorf("first = %+v", first)
	}
	if !strings.HasPrefix(second.DisplayName, "openai (") {
		t.Errorf("generated display name = %q", second.DisplayName)
	}

	raw, ok, _ := store.Get(ctx, "accounts/openai/"+first.ID)
	if !ok || !strings.Contains(raw, "sk-one") {
		t.Errorf("credential not stored under accounts/openai/<id>: %q", raw)
	}
	index, ok, _ := store.Get(ctx, "accounts/index")
	if !ok || strings.Contains(index, "sk-one") {
		t.Errorf("index missing or leaks secret: %q", index)
	}
	assertSingleDefault(t, m, "openai")
}

func TestAddAccount_RejectsEmptyCredential(t *testing.T) {
	m := newTestManager(t, inmemory.New())
	_, err := m.AddAccount(context.Background(), "openai", Credential{APIKey: "  "}, "x")
	if !errors.Is(err, ai.ErrCredentialMissing) {
		t.Fatalf("AddAccount() error = %v, want ErrCredentialMissing", err)
	}
}

func TestSetActiveAccount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, inmemory.New())

	a, _ := m.AddAccount(ctx, "openai", Credential{APIKey: "a"}, "a")
	b, _ := m.AddAccount(ctx, "openai", Credential{APIKey: "b"}, "b")
	other, _ := m.AddAccount(ctx, "groq", Credential{APIKey: "g"}, "g")

	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	if err := m.SetActiveAccount(ctx, b.ID); err != nil {
		t.Fatalf("SetActiveAccount() error = %v", err)
	}
	active, ok := m.GetActiveAccount("openai")
	if !ok || active.ID != b.ID {
		t.Fatalf("active = %+v, want %s", active, b.ID)
	}
	if got, _ := m.GetAccount(a.ID); got.IsDefault {
		t.Error("previous default still flagged")
	}
	if got, _ := m.GetAccount(other.ID); !got.IsDefault {
		t.Error("other provider's default changed")
	}
	if len(events) != 1 || events[0] != (Event{Provider: "openai", AccountID: b.ID, Type: EventSwitched}) {
		t.Errorf("events = %+v", events)
	}

	// Re-activating the default is a no-op.
	if err := m.SetActiveAccount(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("no-op switch emitted an event: %+v", events)
	}

	if err := m.SetActiveAccount(ctx, "nope"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("unknown id error = %v", err)
	}
	assertSingleDefault(t, m, "openai")
	assertSingleDefault(t, m, "groq")
}

func TestRemoveAccount_PromotesOldestSibling(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	m := newTestManager(t, store)

	a, _ := m.AddAccount(ctx, "openai", Credential{APIKey: "a"}, "a")
	b, _ := m.AddAccount(ctx, "openai", Credential{APIKey: "b"}, "b")
	c, _ := m.AddAccount(ctx, "openai", Credential{APIKey: "c"}, "c")

	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	if err := m.RemoveAccount(ctx, a.ID); err != nil {
		t.Fatalf("RemoveAccount() error = %v", err)
	}

	active, _ := m.GetActiveAccount("openai")
	if active.ID != b.ID {
		t.Errorf("promoted = %s, want oldest sibling %s", active.ID, b.ID)
	}
	want := []Event{
		{Provider: "openai", AccountID: a.ID, Type: EventRemoved},
		{Provider: "openai", AccountID: b.ID, Type: EventSwitched},
	}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %+v, want %+v", events, want)
	}
	if _, ok, _ := store.Get(ctx, "accounts/openai/"+a.ID); ok {
		t.Error("credential of removed account still stored")
	}

	// Removing a non-default account does not switch.
	events = nil
	if err := m.RemoveAccount(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != EventRemoved {
		t.Errorf("events = %+v", events)
	}
	assertSingleDefault(t, m, "openai")
}

func TestSingleDefaultInvariant_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, inmemory.New())

	var ids []string
	for i := range 6 {
		account, err := m.AddAccount(ctx, "openai", Credential{APIKey: fmt.Sprintf("k%d", i)}, "")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, account.ID)
	}

	violations := make(chan string, 1)
	unsubscribe := m.Subscribe(func(Event) {
		defaults := 0
		for _, account := range m.ListAccounts("openai") {
			if account.IsDefault {
				defaults++
			}
		}
		if defaults > 1 {
			select {
			case violations <- fmt.Sprintf("%d defaults observed", defaults):
			default:
			}
		}
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.SetActiveAccount(ctx, ids[i%len(ids)])
		}()
	}
	wg.Wait()

	select {
	case v := <-violations:
		t.Fatal(v)
	default:
	}
	assertSingleDefault(t, m, "openai")
}

func TestGetCredentials_ExternallyRemoved(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	m := newTestManager(t, store)

	account, _ := m.AddAccount(ctx, "openai", Credential{APIKey: "sk"}, "a")
	credential, err := m.GetCredentials(ctx, account.ID)
	if err != nil || credential == nil || credential.APIKey != "sk" {
		t.Fatalf("GetCredentials() = %+v, %v", credential, err)
	}

	_ = store.Delete(ctx, "accounts/openai/"+account.ID)

	credential, err = m.GetCredentials(ctx, account.ID)
	if err != nil || credential != nil {
		t.Fatalf("GetCredentials() after external removal = %+v, %v; want nil, nil", credential, err)
	}
	stale, ok := m.GetAccount(account.ID)
	if !ok {
		t.Fatal("stale account record was dropped")
	}
	if stale.Status != StatusMissingCredential {
		t.Errorf("status = %q, want missing_credential", stale.Status)
	}

	if _, err := m.GetCredentials(ctx, "unknown"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("unknown id error = %v", err)
	}
}

func TestUpdateAccount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, inmemory.New())
	account, _ := m.AddAccount(ctx, "anthropic", Credential{APIKey: "old"}, "old name")

	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	name := "new name"
	updated, err := m.UpdateAccount(ctx, account.ID, AccountUpdate{
		DisplayName: &name,
		Credential:  &Credential{APIKey: "new"},
	})
	if err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}
	if updated.DisplayName != "new name" || !updated.UpdatedAt.After(account.UpdatedAt) {
		t.Errorf("updated = %+v", updated)
	}
	credential, _ := m.GetCredentials(ctx, account.ID)
	if credential.APIKey != "new" {
		t.Errorf("credential = %+v", credential)
	}
	if len(events) != 1 || events[0].Type != EventUpdated {
		t.Errorf("events = %+v", events)
	}

	if _, err := m.UpdateAccount(ctx, account.ID, AccountUpdate{Credential: &Credential{}}); !errors.Is(err, ai.ErrCredentialMissing) {
		t.Errorf("empty credential error = %v", err)
	}
}

func TestLoad_RestoresAndRepairs(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	index := `[
		{"id":"x1","provider":"openai","displayName":"x1","authType":"api_key","isDefault":true,"status":"active","createdAt":"2025-01-01T00:00:00Z"},
		{"id":"x2","provider":"openai","displayName":"x2","authType":"api_key","isDefault":true,"status":"active","createdAt":"2025-01-02T00:00:00Z"},
		{"id":"y1","provider":"groq","displayName":"y1","authType":"api_key","isDefault":false,"status":"active","createdAt":"2025-01-03T00:00:00Z"}
	]`
	if err := store.Set(ctx, "accounts/index", index); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, store)
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if active, _ := m.GetActiveAccount("openai"); active.ID != "x1" {
		t.Errorf("openai default = %q, want oldest default x1", active.ID)
	}
	if active, ok := m.GetActiveAccount("groq"); !ok || active.ID != "y1" {
		t.Errorf("groq default = %+v, want y1 promoted", active)
	}
	assertSingleDefault(t, m, "openai")

	reloaded := newTestManager(t, store)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if len(reloaded.ListAccounts("")) != 3 {
		t.Errorf("repaired index not persisted: %+v", reloaded.ListAccounts(""))
	}
	if active, _ := reloaded.GetActiveAccount("groq"); active.ID != "y1" {
		t.Error("repair was not written back")
	}
}

func TestLoad_CorruptIndex(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	_ = store.Set(ctx, "accounts/index", "{not json")
	m := newTestManager(t, store)
	if err := m.Load(ctx); !errors.Is(err, ai.ErrCache) {
		t.Fatalf("Load() error = %v, want ErrCache", err)
	}
}

func TestEnsureAPIKeyAccount_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, inmemory.New())

	first, err := m.EnsureAPIKeyAccount(ctx, "openai", "sk-sync")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.EnsureAPIKeyAccount(ctx, "openai", " sk-sync ")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID || len(m.ListAccounts("openai")) != 1 {
		t.Errorf("EnsureAPIKeyAccount created duplicates: %+v", m.ListAccounts("openai"))
	}

	third, err := m.EnsureAPIKeyAccount(ctx, "openai", "sk-other")
	if err != nil {
		t.Fatal(err)
	}
	if third.ID == first.ID || third.IsDefault {
		t.Errorf("third = %+v", third)
	}
}

func TestEnsureAPIKeyAccount_ConcurrentSyncsAddOnce(t *testing.T) {
	ctx := context.Background()
	m := New(inmemory.New())

	const workers = 16
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account, err := m.EnsureAPIKeyAccount(ctx, "openai", "sk-race")
			ids[i], errs[i] = account.ID, err
		}()
	}
	wg.Wait()

	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("EnsureAPIKeyAccount: %v", errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got account %s, want %s", i, ids[i], ids[0])
		}
	}
	if list := m.ListAccounts("openai"); len(list) != 1 || !list[0].IsDefault {
		t.Errorf("accounts = %+v, want one default account", list)
	}
}

func TestSubscribe_PanicRecoveredAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, inmemory.New())

	m.Subscribe(func(Event) { panic("listener bug") })
	var got []Event
	unsubscribe := m.Subscribe(func(e Event) { got = append(got, e) })

	if _, err := m.AddAccount(ctx, "openai", Credential{APIKey: "k"}, ""); err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}
	if len(got) != 1 || got[0].Type != EventAdded {
		t.Fatalf("events = %+v", got)
	}

	unsubscribe()
	unsubscribe()
	if _, err := m.AddAccount(ctx, "openai", Credential{APIKey: "k2"}, ""); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("unsubscribed listener still called: %+v", got)
	}
}

type failingStore struct {
	*inmemory.Store
	failKey string
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if key == s.failKey {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

func TestAddAccount_RollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: inmemory.New(), failKey: "accounts/index"}
	m := newTestManager(t, store)

	_, err := m.AddAccount(ctx, "openai", Credential{APIKey: "k"}, "")
	if !errors.Is(err, ai.ErrCache) {
		t.Fatalf("AddAccount() error = %v, want ErrCache", err)
	}
	if len(m.ListAccounts("")) != 0 {
		t.Error("account kept in memory after failed persist")
	}
	if keys, _ := store.Keys(ctx, "accounts/openai/"); len(keys) != 0 {
		t.Errorf("orphaned credential keys: %v", keys)
	}
}

func TestCredentialStatus_JWTExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sign := func(exp time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		})
		signed, err := token.SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatal(err)
		}
		return signed
	}
	explicit := now.Add(-time.Minute)

	tests := []struct {
		name       string
		credential Credential
		want       Status
	}{
		{name: "api key", credential: Credential{APIKey: "sk"}, want: StatusActive},
		{name: "valid jwt", credential: Credential{AccessToken: sign(now.Add(time.Hour))}, want: StatusActive},
		{name: "expired jwt", credential: Credential{AccessToken: sign(now.Add(-time.Hour))}, want: StatusExpired},
		{name: "opaque token", credential: Credential{AccessToken: "gho_opaque"}, want: StatusActive},
		{name: "explicit expiry wins", credential: Credential{AccessToken: sign(now.Add(time.Hour)), ExpiresAt: &explicit}, want: StatusExpired},
		{name: "empty", credential: Credential{}, want: StatusMissingCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.credential.statusAt(now); got != tt.want {
				t.Errorf("statusAt() = %q, want %q", got, tt.want)
			}
		})
	}

	oauth := Credential{AccessToken: "tok", RefreshToken: "r"}
	if oauth.AuthType() != AuthTypeOAuth {
		t.Errorf("AuthType() = %q", oauth.AuthType())
	}
	if oauth.Fingerprint() == "" || strings.Contains(oauth.Fingerprint(), "tok") {
		t.Errorf("Fingerprint() = %q", oauth.Fingerprint())
	}
}
