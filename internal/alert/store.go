package alert

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"cryptocompare-telegram-bot/internal/metrics"
	"cryptocompare-telegram-bot/internal/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Repository durably stores alerts. SaveChat replaces everything stored for
// a chat in one transaction.
type Repository interface {
	SaveChat(ctx context.Context, chatID int64, conditions []types.Condition) error
	DeleteChat(ctx context.Context, chatID int64) error
	LoadAll(ctx context.Context) ([]types.Condition, error)
}

// thresholds is keyed by the canonical decimal string so 100 and 100.0 collide
type thresholds map[string]decimal.Decimal

type chatAlerts struct {
	mu   sync.Mutex
	keys map[types.AlertKey]thresholds
}

// Store holds every chat's thresholds. Mutations are serialized per chat and
// written through to the repository before they become visible.
type Store struct {
	repo Repository

	mu    sync.Mutex
	chats map[int64]*chatAlerts
	total atomic.Int64
}

// NewStore creates an empty store. A nil repository keeps alerts in memory only.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:  repo,
		chats: make(map[int64]*chatAlerts),
	}
}

// Load replaces the in-memory state with the repository contents
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	conditions, err := s.repo.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "load alerts")
	}

	s.mu.Lock()
	s.chats = make(map[int64]*chatAlerts)
	s.mu.Unlock()
	s.total.Store(0)

	for _, c := range conditions {
		chat := s.chat(c.ChatID)
		chat.mu.Lock()
		if chat.insert(c) {
			s.total.Add(1)
		}
		chat.mu.Unlock()
	}

	log.Infof("loaded %d alerts", s.total.Load())
	s.updateGauge()
	return nil
}

// Add inserts a threshold. Adding an existing threshold is a no-op and
// reports added=false.
func (s *Store) Add(ctx context.Context, c types.Condition) (bool, error) {
	chat := s.chat(c.ChatID)
	chat.mu.Lock()
	defer chat.mu.Unlock()

	if !chat.insert(c) {
		return false, nil
	}

	if err := s.persist(ctx, c.ChatID, chat); err != nil {
		chat.delete(c)
		return false, err
	}

	s.total.Add(1)
	s.updateGauge()
	return true, nil
}

// Remove deletes one threshold and prunes empty keys. removed is false when
// the threshold was not present, which lets concurrent evaluators agree on a
// single winner.
func (s *Store) Remove(ctx context.Context, c types.Condition) (bool, error) {
	chat, ok := s.lookup(c.ChatID)
	if !ok {
		return false, nil
	}
	chat.mu.Lock()
	defer chat.mu.Unlock()

	if !chat.delete(c) {
		return false, nil
	}

	if err := s.persist(ctx, c.ChatID, chat); err != nil {
		chat.insert(c)
		return false, err
	}

	s.total.Add(-1)
	s.updateGauge()
	return true, nil
}

// Clear drops every threshold of a chat and returns how many were removed
func (s *Store) Clear(ctx context.Context, chatID int64) (int, error) {
	chat, ok := s.lookup(chatID)
	if !ok {
		return 0, nil
	}
	chat.mu.Lock()
	defer chat.mu.Unlock()

	previous := chat.keys
	n := chat.count()
	chat.keys = make(map[types.AlertKey]thresholds)

	if s.repo != nil {
		if err := s.repo.DeleteChat(ctx, chatID); err != nil {
			chat.keys = previous
			return 0, errors.Wrapf(err, "clear alerts of chat %d", chatID)
		}
	}

	s.total.Add(int64(-n))
	s.updateGauge()
	return n, nil
}

// List returns a sorted snapshot of a chat's thresholds
func (s *Store) List(chatID int64) []types.Condition {
	chat, ok := s.lookup(chatID)
	if !ok {
		return nil
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	return chat.conditions()
}

// Snapshot returns every stored threshold across chats
func (s *Store) Snapshot() []types.Condition {
	s.mu.Lock()
	chats := make([]*chatAlerts, 0, len(s.chats))
	for _, chat := range s.chats {
		chats = append(chats, chat)
	}
	s.mu.Unlock()

	var out []types.Condition
	for _, chat := range chats {
		chat.mu.Lock()
		out = append(out, chat.conditions()...)
		chat.mu.Unlock()
	}
	return out
}

// Count returns the total number of thresholds
func (s *Store) Count() int {
	return int(s.total.Load())
}

// chat returns the entry for chatID, creating it if needed. Entries are never
// removed so a goroutine holding one can't write to an orphan.
func (s *Store) chat(chatID int64) *chatAlerts {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		chat = &chatAlerts{keys: make(map[types.AlertKey]thresholds)}
		s.chats[chatID] = chat
	}
	return chat
}

func (s *Store) lookup(chatID int64) (*chatAlerts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	return chat, ok
}

// persist must be called with chat.mu held
func (s *Store) persist(ctx context.Context, chatID int64, chat *chatAlerts) error {
	if s.repo == nil {
		return nil
	}
	conditions := chat.conditions()
	if len(conditions) == 0 {
		return errors.Wrapf(s.repo.DeleteChat(ctx, chatID), "persist alerts of chat %d", chatID)
	}
	return errors.Wrapf(s.repo.SaveChat(ctx, chatID, conditions), "persist alerts of chat %d", chatID)
}

func (s *Store) updateGauge() {
	metrics.AlertsActive.Set(float64(s.total.Load()))
}

func (c *chatAlerts) insert(cond types.Condition) bool {
	set, ok := c.keys[cond.AlertKey]
	if !ok {
		set = make(thresholds)
		c.keys[cond.AlertKey] = set
	}
	canonical := cond.Target.String()
	if _, exists := set[canonical]; exists {
		return false
	}
	set[canonical] = cond.Target
	return true
}

func (c *chatAlerts) delete(cond types.Condition) bool {
	set, ok := c.keys[cond.AlertKey]
	if !ok {
		return false
	}
	canonical := cond.Target.String()
	if _, exists := set[canonical]; !exists {
		return false
	}
	delete(set, canonical)
	if len(set) == 0 {
		delete(c.keys, cond.AlertKey)
	}
	return true
}

func (c *chatAlerts) count() int {
	n := 0
	for _, set := range c.keys {
		n += len(set)
	}
	return n
}

func (c *chatAlerts) conditions() []types.Condition {
	out := make([]types.Condition, 0, c.count())
	for key, set := range c.keys {
		for _, target := range set {
			out = append(out, types.Condition{AlertKey: key, Target: target})
		}
	}
	SortConditions(out)
	return out
}

// SortConditions orders by symbol, operator, quote and then target
func SortConditions(conditions []types.Condition) {
	sort.Slice(conditions, func(i, j int) bool {
		a, b := conditions[i], conditions[j]
		if a.ChatID != b.ChatID {
			return a.ChatID < b.ChatID
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Op != b.Op {
			return a.Op < b.Op
		}
		if a.Quote != b.Quote {
			return a.Quote < b.Quote
		}
		return a.Target.LessThan(b.Target)
	})
}
