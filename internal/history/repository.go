package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxChats caps the history list
const DefaultMaxChats = 25

const (
	keyHistoryList = "history"
	keyChatPrefix  = "chat:"
	keyFirstBoot   = "flag:first_boot_done"
	keyOnboarding  = "flag:onboarding_seen"
	keyAppOpens    = "counter:app_opens"

	previewRunes = 80
)

// Repository stores chats and the capped history list on top of a KV
type Repository struct {
	kv       KV
	maxChats int
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewRepository creates a repository keeping at most maxChats chats
func NewRepository(kv KV, maxChats int, logger zerolog.Logger) *Repository {
	if maxChats <= 0 {
		maxChats = DefaultMaxChats
	}
	return &Repository{
		kv:       kv,
		maxChats: maxChats,
		logger:   logger.With().Str("component", "history").Logger(),
	}
}

// NewChatID returns an id for a chat that is persisted on its first message
func NewChatID() string {
	return uuid.NewString()
}

// AppendMessage adds msg to the chat, creating the chat if needed, and moves
// it to the front of the history list. The oldest chats beyond the cap are
// deleted together with their transcripts.
func (r *Repository) AppendMessage(ctx context.Context, chatID string, msg Message) (*Chat, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	chat, err := r.getChat(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		chat = &Chat{ID: chatID, CreatedAt: now}
	} else if err != nil {
		return nil, err
	}
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = now

	data, err := sonic.Marshal(chat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat: %w", err)
	}
	if err := r.kv.Set(ctx, keyChatPrefix+chatID, data); err != nil {
		return nil, err
	}

	items, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	updated := make([]Item, 0, len(items)+1)
	updated = append(updated, Item{ChatID: chatID, Preview: preview(chat), UpdatedAt: now})
	for _, item := range items {
		if item.ChatID != chatID {
			updated = append(updated, item)
		}
	}

	for len(updated) > r.maxChats {
		evicted := updated[len(updated)-1]
		updated = updated[:len(updated)-1]
		if err := r.kv.Delete(ctx, keyChatPrefix+evicted.ChatID); err != nil {
			return nil, err
		}
		r.logger.Debug().Str("chat_id", evicted.ChatID).Msg("Evicted oldest chat")
	}

	if err := r.saveList(ctx, updated); err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat loads a chat transcript
func (r *Repository) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getChat(ctx, chatID)
}

func (r *Repository) getChat(ctx context.Context, chatID string) (*Chat, error) {
	data, err := r.kv.Get(ctx, keyChatPrefix+chatID)
	if err != nil {
		return nil, err
	}
	var chat Chat
	if err := sonic.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat %s: %w", chatID, err)
	}
	return &chat, nil
}

// List returns the history list, most recent first
func (r *Repository) List(ctx context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(ctx)
}

func (r *Repository) list(ctx context.Context) ([]Item, error) {
	data, err := r.kv.Get(ctx, keyHistoryList)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := sonic.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode history list: %w", err)
	}
	return items, nil
}

func (r *Repository) saveList(ctx context.Context, items []Item) error {
	data, err := sonic.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode history list: %w", err)
	}
	return r.kv.Set(ctx, keyHistoryList, data)
}

// DeleteChat removes a chat and its history entry
func (r *Repository) DeleteChat(ctx context.Context, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.list(ctx)
	if err != nil {
		return err
	}
	kept := items[:0]
	found := false
	for _, item := range items {
		if item.ChatID == chatID {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	if !found {
		return ErrNotFound
	}
	if err := r.kv.Delete(ctx, keyChatPrefix+chatID); err != nil {
		return err
	}
	return r.saveList(ctx, kept)
}

// Clear deletes every chat and the history list. Flags are kept.
func (r *Repository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.kv.Keys(ctx, keyChatPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := r.kv.Delete(ctx, key); err != nil {
			return err
		}
	}
	return r.kv.Delete(ctx, keyHistoryList)
}

// IsFirstBoot reports whether MarkBooted has never been called
func (r *Repository) IsFirstBoot(ctx context.Context) (bool, error) {
	done, err := r.flag(ctx, keyFirstBoot)
	return !done, err
}

// MarkBooted records that the first boot has happened
func (r *Repository) MarkBooted(ctx context.Context) error {
	return r.kv.Set(ctx, keyFirstBoot, []byte("1"))
}

// OnboardingSeen reports whether onboarding was completed
func (r *Repository) OnboardingSeen(ctx context.Context) (bool, error) {
	return r.flag(ctx, keyOnboarding)
}

// SetOnboardingSeen records that onboarding was completed
func (r *Repository) SetOnboardingSeen(ctx context.Context) error {
	return r.kv.Set(ctx, keyOnboarding, []byte("1"))
}

// IncrementAppOpens bumps and returns the app-open counter
func (r *Repository) IncrementAppOpens(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.counter(ctx, keyAppOpens)
	if err != nil {
		return 0, err
	}
	n++
	if err := r.kv.Set(ctx, keyAppOpens, []byte(strconv.Itoa(n))); err != nil {
		return 0, err
	}
	return n, nil
}

// AppOpens returns the app-open counter
func (r *Repository) AppOpens(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter(ctx, keyAppOpens)
}

func (r *Repository) flag(ctx context.Context, key string) (bool, error) {
	_, err := r.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repository) counter(ctx context.Context, key string) (int, error) {
	data, err := r.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("corrupt counter %s: %w", key, err)
	}
	return n, nil
}

// preview is the first user message, shortened
func preview(chat *Chat) string {
	text := ""
	for _, m := range chat.Messages {
		if m.FromUser {
			text = m.Text
			break
		}
	}
	if text == "" && len(chat.Messages) > 0 {
		text = chat.Messages[0].Text
	}
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); len(runes) > previewRunes {
		text = string(runes[:previewRunes-1]) + "…"
	}
	return text
}
