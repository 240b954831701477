package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
	"github.com/leofalp/aimux/providers/storage"
)

// ErrAccountNotFound is returned for an unknown account id.
var ErrAccountNotFound = errors.New("account not found")

const (
	keyPrefix = "accounts"
	indexKey  = "accounts/index"
)

func credentialKey(provider, accountID string) string {
	return storage.Join(keyPrefix, provider, accountID)
}

// Manager owns the accounts of every provider. All mutations run under one
// mutex and are persisted before it is released, so at most one account per
// provider is default at every observable instant.
type Manager struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	accounts map[string]Account

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Secrets are never logged; only fingerprints.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides the UUID generator, for tests.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// New creates a Manager backed by store. Call Load to restore persisted accounts.
func New(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		accounts:  make(map[string]Account),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the in-memory records with the persisted index. An index with
// several defaults for one provider keeps the oldest; a provider without a
// default gets its oldest account promoted.
func (m *Manager) Load(ctx context.Context) error {
	raw, ok, err := m.store.Get(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("%w: load account index: %w", ai.ErrCache, err)
	}

	var records []Account
	if ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &records); err != nil {
			return fmt.Errorf("%w: decode account index: %w", ai.ErrCache, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts = make(map[string]Account, len(records))
	for _, record := range records {
		if record.ID == "" || record.Provider == "" {
			continue
		}
		m.accounts[record.ID] = record
	}

	repaired := false
	for _, provider := range m.providersLocked() {
		if m.repairDefaultLocked(provider) {
			repaired = true
		}
	}
	if repaired {
		if err := m.persistIndexLocked(ctx); err != nil {
			return err
		}
	}

	m.logger.Debug("accounts loaded", "count", len(m.accounts))
	return nil
}

// AddAccount stores credential and records a new account. The first account
// of a provider becomes its default.
func (m *Manager) AddAccount(ctx context.Context, provider string, credential Credential, displayName string, opts ...AccountOption) (Account, error) {
	account, encoded, err := m.newAccount(provider, credential, displayName, opts...)
	if err != nil {
		return Account{}, err
	}

	m.mu.Lock()
	err = m.insertLocked(ctx, &account, encoded)
	m.mu.Unlock()
	if err != nil {
		return Account{}, err
	}

	m.added(account, credential)
	return account, nil
}

// newAccount validates credential and builds the record and its encoded
// secret without touching the store.
func (m *Manager) newAccount(provider string, credential Credential, displayName string, opts ...AccountOption) (Account, string, error) {
	if strings.TrimSpace(provider) == "" {
		return Account{}, "", fmt.Errorf("%w: provider key is empty", ai.ErrConfiguration)
	}
	if credential.Empty() {
		return Account{}, "", ai.NewError(ai.KindCredentialMissing, provider, "", errors.New("credential has no api key or access token"))
	}

	now := m.now()
	account := Account{
		ID:          m.newID(),
		Provider:    provider,
		DisplayName: displayName,
		AuthType:    credential.AuthType(),
		Status:      credential.statusAt(now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(&account)
	}
	if account.DisplayName == "" {
		account.DisplayName = fmt.Sprintf("%s (%s)", provider, credential.Fingerprint()[:8])
	}

	encoded, err := json.Marshal(credential)
	if err != nil {
		return Account{}, "", fmt.Errorf("encode credential: %w", err)
	}
	return account, string(encoded), nil
}

// insertLocked stores the credential and the index entry. The first account
// of a provider becomes its default.
func (m *Manager) insertLocked(ctx context.Context, account *Account, encoded string) error {
	_, hasDefault := m.defaultLocked(account.Provider)
	account.IsDefault = !hasDefault

	if err := m.store.Set(ctx, credentialKey(account.Provider, account.ID), encoded); err != nil {
		return fmt.Errorf("%w: store credential: %w", ai.ErrCache, err)
	}
	m.accounts[account.ID] = *account
	if err := m.persistIndexLocked(ctx); err != nil {
		delete(m.accounts, account.ID)
		_ = m.store.Delete(ctx, credentialKey(account.Provider, account.ID))
		return err
	}
	return nil
}

func (m *Manager) added(account Account, credential Credential) {
	m.logger.Info("account added",
		observability.AttrProvider, account.Provider,
		observability.AttrAccountID, account.ID,
		observability.AttrAccountType, string(account.AuthType),
		observability.AttrAccountFingerprint, credential.Fingerprint(),
	)
	m.emit(Event{Provider: account.Provider, AccountID: account.ID, Type: EventAdded})
}

// SetActiveAccount makes accountID the default of its provider.
func (m *Manager) SetActiveAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	account, ok := m.accounts[accountID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if account.IsDefault {
		m.mu.Unlock()
		return nil
	}

	previous, hadDefault := m.defaultLocked(account.Provider)
	if hadDefault {
		previous.IsDefault = false
		m.accounts[previous.ID] = previous
	}
	account.IsDefault = true
	account.UpdatedAt = m.now()
	m.accounts[account.ID] = account

	if err := m.persistIndexLocked(ctx); err != nil {
		account.IsDefault = false
		m.accounts[account.ID] = account
		if hadDefault {
			previous.IsDefault = true
			m.accounts[previous.ID] = previous
		}
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.logger.Info("active account switched",
		observability.AttrProvider, account.Provider,
		observability.AttrAccountID, account.ID,
	)
	m.emit(Event{Provider: account.Provider, AccountID: account.ID, Type: EventSwitched})
	return nil
}

// GetActiveAccount returns the default account of provider.
func (m *Manager) GetActiveAccount(provider string) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultLocked(provider)
}

// GetAccount returns one account by id.
func (m *Manager) GetAccount(accountID string) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	return account, ok
}

// ListAccounts returns the accounts of provider, oldest first. An empty
// provider lists every account.
func (m *Manager) ListAccounts(provider string) []Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	var list []Account
	for _, account := range m.accounts {
		if provider == "" || account.Provider == provider {
			list = append(list, account)
		}
	}
	sortAccounts(list)
	return list
}

// GetCredentials reads the secret of accountID. When the secret has been
// removed from the store behind the manager's back it returns nil, nil and
// keeps the account record, marking it missing_credential.
func (m *Manager) GetCredentials(ctx context.Context, accountID string) (*Credential, error) {
	account, ok := m.GetAccount(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	credential, err := m.storedCredential(ctx, account)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		m.logger.Warn("credential missing from store",
			observability.AttrProvider, account.Provider,
			observability.AttrAccountID, accountID,
		)
		m.setStatus(ctx, accountID, StatusMissingCredential)
		return nil, nil
	}
	m.setStatus(ctx, accountID, credential.statusAt(m.now()))
	return credential, nil
}

// ActiveCredential is the credential of provider's default account, or nil
// when there is none.
func (m *Manager) ActiveCredential(ctx context.Context, provider string) (*Credential, error) {
	account, ok := m.GetActiveAccount(provider)
	if !ok {
		return nil, nil
	}
	return m.GetCredentials(ctx, account.ID)
}

// UpdateAccount applies update to accountID.
func (m *Manager) UpdateAccount(ctx context.Context, accountID string, update AccountUpdate) (Account, error) {
	if update.Credential != nil && update.Credential.Empty() {
		return Account{}, ai.NewError(ai.KindCredentialMissing, "", "", errors.New("credential has no api key or access token"))
	}

	m.mu.Lock()
	original, ok := m.accounts[accountID]
	if !ok {
		m.mu.Unlock()
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	account := original
	if update.DisplayName != nil {
		account.DisplayName = *update.DisplayName
	}
	if update.Email != nil {
		account.Email = *update.Email
	}
	if update.Credential != nil {
		encoded, err := json.Marshal(update.Credential)
		if err != nil {
			m.mu.Unlock()
			return Account{}, fmt.Errorf("encode credential: %w", err)
		}
		if err := m.store.Set(ctx, credentialKey(account.Provider, accountID), string(encoded)); err != nil {
			m.mu.Unlock()
			return Account{}, fmt.Errorf("%w: store credential: %w", ai.ErrCache, err)
		}
		account.AuthType = update.Credential.AuthType()
		account.Status = update.Credential.statusAt(m.now())
	}
	account.UpdatedAt = m.now()
	m.accounts[accountID] = account

	if err := m.persistIndexLocked(ctx); err != nil {
		m.accounts[accountID] = original
		m.mu.Unlock()
		return Account{}, err
	}
	m.mu.Unlock()

	m.emit(Event{Provider: account.Provider, AccountID: accountID, Type: EventUpdated})
	return account, nil
}

// RemoveAccount deletes accountID and its secret. Removing the default
// promotes the oldest remaining sibling, which is announced with a switched
// event after the removed event.
func (m *Manager) RemoveAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	account, ok := m.accounts[accountID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	delete(m.accounts, accountID)
	var promoted Account
	if account.IsDefault {
		if siblings := m.providerAccountsLocked(account.Provider); len(siblings) > 0 {
			promoted = siblings[0]
			promoted.IsDefault = true
			promoted.UpdatedAt = m.now()
			m.accounts[promoted.ID] = promoted
		}
	}

	if err := m.persistIndexLocked(ctx); err != nil {
		m.accounts[accountID] = account
		if promoted.ID != "" {
			promoted.IsDefault = false
			m.accounts[promoted.ID] = promoted
		}
		m.mu.Unlock()
		return err
	}
	if err := m.store.Delete(ctx, credentialKey(account.Provider, accountID)); err != nil {
		// The index no longer references it; an orphaned secret is harmless.
		m.logger.Warn("failed to delete credential",
			observability.AttrAccountID, accountID,
			observability.AttrError, err.Error(),
		)
	}
	m.mu.Unlock()

	m.logger.Info("account removed",
		observability.AttrProvider, account.Provider,
		observability.AttrAccountID, accountID,
	)
	m.emit(Event{Provider: account.Provider, AccountID: accountID, Type: EventRemoved})
	if promoted.ID != "" {
		m.emit(Event{Provider: account.Provider, AccountID: promoted.ID, Type: EventSwitched})
	}
	return nil
}

// EnsureAPIKeyAccount makes sure an API-key account holding apiKey exists for
// provider. Calling it again with the same key returns the same account,
// also when calls race.
func (m *Manager) EnsureAPIKeyAccount(ctx context.Context, provider string, apiKey string) (Account, error) {
	credential := Credential{APIKey: strings.TrimSpace(apiKey)}
	if credential.Empty() {
		return Account{}, ai.NewError(ai.KindCredentialMissing, provider, "", errors.New("api key is empty"))
	}
	account, encoded, err := m.newAccount(provider, credential, "")
	if err != nil {
		return Account{}, err
	}
	fingerprint := credential.Fingerprint()

	m.mu.Lock()
	for _, existing := range m.providerAccountsLocked(provider) {
		if existing.AuthType != AuthTypeAPIKey {
			continue
		}
		stored, err := m.storedCredential(ctx, existing)
		if err != nil {
			m.mu.Unlock()
			return Account{}, err
		}
		if stored != nil && stored.Fingerprint() == fingerprint {
			m.mu.Unlock()
			return existing, nil
		}
	}
	err = m.insertLocked(ctx, &account, encoded)
	m.mu.Unlock()
	if err != nil {
		return Account{}, err
	}

	m.added(account, credential)
	return account, nil
}

// storedCredential reads account's credential, or nil when the store has
// none. It takes no lock.
func (m *Manager) storedCredential(ctx context.Context, account Account) (*Credential, error) {
	raw, found, err := m.store.Get(ctx, credentialKey(account.Provider, account.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: read credential: %w", ai.ErrCache, err)
	}
	if !found {
		return nil, nil
	}
	var credential Credential
	if err := json.Unmarshal([]byte(raw), &credential); err != nil {
		return nil, fmt.Errorf("%w: decode credential: %w", ai.ErrCache, err)
	}
	return &credential, nil
}

// Subscribe registers listener and returns a function that removes it.
func (m *Manager) Subscribe(listener Listener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	id := m.nextListener
	m.nextListener++
	m.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}
}

func (m *Manager) emit(event Event) {
	m.listenersMu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, listener := range m.listeners {
		listeners = append(listeners, listener)
	}
	m.listenersMu.RUnlock()

	for _, listener := range listeners {
		m.deliver(listener, event)
	}
}

func (m *Manager) deliver(listener Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("account listener panicked",
				observability.AttrAccountEvent, string(event.Type),
				observability.AttrAccountID, event.AccountID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	listener(event)
}

func (m *Manager) setStatus(ctx context.Context, accountID string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok || account.Status == status {
		return
	}
	account.Status = status
	m.accounts[accountID] = account
	if err := m.persistIndexLocked(ctx); err != nil {
		m.logger.Warn("failed to persist account status",
			observability.AttrAccountID, accountID,
			observability.AttrError, err.Error(),
		)
	}
}

func (m *Manager) defaultLocked(provider string) (Account, bool) {
	for _, account := range m.accounts {
		if account.Provider == provider && account.IsDefault {
			return account, true
		}
	}
	return Account{}, false
}

func (m *Manager) providerAccountsLocked(provider string) []Account {
	var list []Account
	for _, account := range m.accounts {
		if account.Provider == provider {
			list = append(list, account)
		}
	}
	sortAccounts(list)
	return list
}

func (m *Manager) providersLocked() []string {
	seen := make(map[string]bool)
	var providers []string
	for _, account := range m.accounts {
		if !seen[account.Provider] {
			seen[account.Provider] = true
			providers = append(providers, account.Provider)
		}
	}
	sort.Strings(providers)
	return providers
}

// repairDefaultLocked leaves exactly one default for provider and reports
// whether anything changed.
func (m *Manager) repairDefaultLocked(provider string) bool {
	list := m.providerAccountsLocked(provider)
	if len(list) == 0 {
		return false
	}

	keep := -1
	for i, account := range list {
		if account.IsDefault {
			keep = i
			break
		}
	}
	changed := false
	if keep == -1 {
		keep = 0
		changed = true
	}
	for i, account := range list {
		want := i == keep
		if account.IsDefault != want {
			account.IsDefault = want
			m.accounts[account.ID] = account
			changed = true
		}
	}
	return changed
}

func (m *Manager) persistIndexLocked(ctx context.Context) error {
	records := make([]Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		records = append(records, account)
	}
	sortAccounts(records)

	encoded, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode account index: %w", err)
	}
	if err := m.store.Set(ctx, indexKey, string(encoded)); err != nil {
		return fmt.Errorf("%w: persist account index: %w", ai.ErrCache, err)
	}
	return nil
}

func sortAccounts(list []Account) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
