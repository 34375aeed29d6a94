package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/payops/internal/domain"
)

type credentialKey struct {
	merchant string
	provider string
	env      domain.Environment
}

// Memory is an in-process Store used for local development and tests.
// Transactions are serialized: Begin blocks until the previous transaction
// commits or rolls back, which gives the same exclusion as row locks.
// Writes are staged in the transaction and applied on Commit.
type Memory struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	intents     map[string]*domain.PaymentIntent
	wallets     map[int64]*domain.Wallet
	walletIndex map[WalletKey]int64
	entries     []domain.LedgerEntry
	entryRefs   map[string]bool
	credentials map[credentialKey]*domain.ProviderCredential
	clients     map[string]*domain.APIClient
	policies    map[string]*domain.RateLimitPolicy
	webhooks    map[string]*domain.WebhookEvent
	withdrawals map[string]*domain.Withdrawal
	nextID      int64
}

func NewMemory() *Memory {
	return &Memory{
		intents:     make(map[string]*domain.PaymentIntent),
		wallets:     make(map[int64]*domain.Wallet),
		walletIndex: make(map[WalletKey]int64),
		entryRefs:   make(map[string]bool),
		credentials: make(map[credentialKey]*domain.ProviderCredential),
		clients:     make(map[string]*domain.APIClient),
		policies:    make(map[string]*domain.RateLimitPolicy),
		webhooks:    make(map[string]*domain.WebhookEvent),
		withdrawals: make(map[string]*domain.Withdrawal),
	}
}

func (m *Memory) Close() {}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// PutCredential, PutAPIClient and PutRateLimitPolicy seed configuration.
func (m *Memory) PutCredential(c domain.ProviderCredential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[credentialKey{c.MerchantID, c.Provider, c.Environment}] = &c
}

func (m *Memory) PutAPIClient(c domain.APIClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.clients[c.ID] = &c
}

func (m *Memory) PutRateLimitPolicy(p domain.RateLimitPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ClientID] = &p
}

func (m *Memory) CreateIntent(_ context.Context, p *domain.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[p.Reference]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.intents[p.Reference] = &cp
	return nil
}

func (m *Memory) GetIntent(_ context.Context, reference string) (*domain.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.intents[reference]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ReferenceExists(_ context.Context, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.intents[reference]
	return ok, nil
}

func (m *Memory) GetCredential(_ context.Context, merchantID, provider string, env domain.Environment) (*domain.ProviderCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[credentialKey{merchantID, provider, env}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetAPIClient(_ context.Context, clientID string) (*domain.APIClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetRateLimitPolicy(_ context.Context, clientID string) (*domain.RateLimitPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetWallet(_ context.Context, ownerID, currency string) (*domain.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.walletIndex[WalletKey{ownerID, currency}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.wallets[id]
	return &cp, nil
}

func (m *Memory) ListEntries(_ context.Context, walletID int64, limit int) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LedgerEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].WalletID == walletID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// AllEntries returns every entry in insertion order.
func (m *Memory) AllEntries() []domain.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.LedgerEntry(nil), m.entries...)
}

func (m *Memory) RecordWebhookEvent(_ context.Context, ev *domain.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ev.Provider + ":" + ev.PayloadHash
	if existing, ok := m.webhooks[key]; ok {
		existing.Deliveries++
		existing.SignatureValid = existing.SignatureValid || ev.SignatureValid
		ev.ID, ev.ReceivedAt = existing.ID, existing.ReceivedAt
		return nil
	}
	ev.Deliveries = 1
	ev.ID = m.id()
	ev.ReceivedAt = time.Now().UTC()
	cp := *ev
	m.webhooks[key] = &cp
	return nil
}

func (m *Memory) SetWebhookResult(_ context.Context, provider, payloadHash, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.webhooks[provider+":"+payloadHash]; ok {
		ev.ProcessingError = processingError
	}
	return nil
}

// WebhookEvents returns recorded deliveries ordered by id.
func (m *Memory) WebhookEvents() []domain.WebhookEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.WebhookEvent, 0, len(m.webhooks))
	for _, ev := range m.webhooks {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Withdrawal(reference string) (*domain.Withdrawal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.withdrawals[reference]
	if !ok {
		return nil, false
	}
	cp := *w
	return &cp, true
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	locked := make(chan struct{})
	go func() {
		m.txMu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-ctx.Done():
		// release the lock once the waiter acquires it
		go func() {
			<-locked
			m.txMu.Unlock()
		}()
		return nil, fmt.Errorf("tx begin failed: %w", ctx.Err())
	}
	return &memTx{
		m:           m,
		intents:     make(map[string]*domain.PaymentIntent),
		wallets:     make(map[int64]*domain.Wallet),
		newWallets:  make(map[WalletKey]*domain.Wallet),
		entryRefs:   make(map[string]bool),
		withdrawals: make(map[string]*domain.Withdrawal),
	}, nil
}

type memTx struct {
	m    *Memory
	done bool

	intents     map[string]*domain.PaymentIntent
	wallets     map[int64]*domain.Wallet
	newWallets  map[WalletKey]*domain.Wallet
	entries     []domain.LedgerEntry
	entryRefs   map[string]bool
	withdrawals map[string]*domain.Withdrawal
}

func (t *memTx) check() error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	return nil
}

func (t *memTx) LockIntent(_ context.Context, reference string) (*domain.PaymentIntent, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if p, ok := t.intents[reference]; ok {
		cp := *p
		return &cp, nil
	}
	t.m.mu.RLock()
	p, ok := t.m.intents[reference]
	t.m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpdateIntentStatus(ctx context.Context, reference string, status domain.IntentStatus, reason string) error {
	p, err := t.LockIntent(ctx, reference)
	if err != nil {
		return err
	}
	if p.Status != domain.StatusPending {
		return fmt.Errorf("intent %s is not pending", reference)
	}
	p.Status = status
	p.FailureReason = reason
	p.UpdatedAt = time.Now().UTC()
	t.intents[reference] = p
	return nil
}

func (t *memTx) LockWallets(_ context.Context, keys []WalletKey) (map[WalletKey]*domain.Wallet, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make(map[WalletKey]*domain.Wallet, len(keys))
	for _, k := range SortWalletKeys(keys) {
		if w, ok := t.newWallets[k]; ok {
			cp := *w
			out[k] = &cp
			continue
		}
		t.m.mu.Lock()
		id, ok := t.m.walletIndex[k]
		var w domain.Wallet
		if ok {
			w = *t.m.wallets[id]
		} else {
			w = domain.Wallet{ID: t.m.id(), OwnerID: k.OwnerID, Currency: k.Currency, CreatedAt: time.Now().UTC()}
		}
		t.m.mu.Unlock()

		if staged, ok := t.wallets[w.ID]; ok {
			w = *staged
		}
		if !ok {
			nw := w
			t.newWallets[k] = &nw
		}
		cp := w
		out[k] = &cp
	}
	return out, nil
}

func (t *memTx) wallet(id int64) (*domain.Wallet, error) {
	if w, ok := t.wallets[id]; ok {
		return w, nil
	}
	for _, w := range t.newWallets {
		if w.ID == id {
			return w, nil
		}
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	w, ok := t.m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	t.wallets[id] = &cp
	return &cp, nil
}

func (t *memTx) AdjustBalance(_ context.Context, walletID, delta int64) error {
	if err := t.check(); err != nil {
		return err
	}
	w, err := t.wallet(walletID)
	if err != nil {
		return err
	}
	if w.Balance+delta < 0 {
		return fmt.Errorf("balance update failed: wallet %d would go negative", walletID)
	}
	w.Balance += delta
	return nil
}

func (t *memTx) InsertEntries(_ context.Context, entries []domain.LedgerEntry) error {
	if err := t.check(); err != nil {
		return err
	}
	t.m.mu.RLock()
	for _, e := range entries {
		if t.m.entryRefs[e.Reference] || t.entryRefs[e.Reference] {
			t.m.mu.RUnlock()
			return ErrDuplicate
		}
	}
	t.m.mu.RUnlock()

	now := time.Now().UTC()
	for _, e := range entries {
		e.CreatedAt = now
		t.entries = append(t.entries, e)
		t.entryRefs[e.Reference] = true
	}
	return nil
}

func (t *memTx) CreateWithdrawal(_ context.Context, w *domain.Withdrawal) error {
	if err := t.check(); err != nil {
		return err
	}
	t.m.mu.RLock()
	_, exists := t.m.withdrawals[w.Reference]
	t.m.mu.RUnlock()
	if _, staged := t.withdrawals[w.Reference]; exists || staged {
		return ErrDuplicate
	}
	w.CreatedAt = time.Now().UTC()
	cp := *w
	t.withdrawals[w.Reference] = &cp
	return nil
}

func (t *memTx) UpdateWithdrawalStatus(_ context.Context, reference string, status domain.WithdrawalStatus) error {
	if err := t.check(); err != nil {
		return err
	}
	if w, ok := t.withdrawals[reference]; ok {
		w.Status = status
		return nil
	}
	t.m.mu.RLock()
	w, ok := t.m.withdrawals[reference]
	t.m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	cp := *w
	cp.Status = status
	t.withdrawals[reference] = &cp
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	t.m.mu.Lock()
	for ref, p := range t.intents {
		t.m.intents[ref] = p
	}
	for k, w := range t.newWallets {
		t.m.walletIndex[k] = w.ID
		t.m.wallets[w.ID] = w
	}
	for id, w := range t.wallets {
		t.m.wallets[id] = w
	}
	for _, e := range t.entries {
		e.ID = t.m.id()
		t.m.entries = append(t.m.entries, e)
		t.m.entryRefs[e.Reference] = true
	}
	for ref, w := range t.withdrawals {
		t.m.withdrawals[ref] = w
	}
	t.m.mu.Unlock()

	t.finish()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if !t.done {
		t.finish()
	}
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.m.txMu.Unlock()
}
