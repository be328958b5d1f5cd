// Package settings provides the persisted, non-authoritative configuration
// cache: gateway credential, recipient list and reminder lead times. It is a
// plain key-value collaborator, injected explicitly instead of held as
// ambient package state.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"corretora/api/internal/phone"
)

// MaxNotifyNumbers bounds the system notification recipient list.
const MaxNotifyNumbers = 3

// ErrTooManyRecipients is returned by Save when the recipient list exceeds
// MaxNotifyNumbers.
var ErrTooManyRecipients = errors.New("settings: too many notification recipients")

// Settings is the single JSON value kept in the cache.
type Settings struct {
	GatewayAPIKey       string    `json:"gatewayApiKey"`
	GatewayBaseURL      string    `json:"gatewayBaseUrl"`
	NotifyNumbers       []string  `json:"notifyNumbers"`
	NotifyOnUpload      bool      `json:"notifyOnUpload"`
	ReminderLeadDays    int       `json:"reminderLeadDays"`
	ReminderHoursBefore int       `json:"reminderHoursBefore"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Store keeps settings in Redis under a single key.
type Store struct {
	client   *redis.Client
	key      string
	defaults Settings
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisURL string, defaults Settings) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client, key: "corretora:settings", defaults: defaults}, nil
}

// NewStoreWithClient creates a store from an existing Redis client.
func NewStoreWithClient(client *redis.Client, defaults Settings) *Store {
	return &Store{client: client, key: "corretora:settings", defaults: defaults}
}

// Load returns the stored settings, or the configured defaults when nothing
// has been saved yet. Zero-valued lead times fall back to the defaults so a
// partially saved record never disables reminders.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return s.defaults, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	var stored Settings
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	if stored.GatewayAPIKey == "" {
		stored.GatewayAPIKey = s.defaults.GatewayAPIKey
	}
	if stored.GatewayBaseURL == "" {
		stored.GatewayBaseURL = s.defaults.GatewayBaseURL
	}
	if stored.ReminderLeadDays <= 0 {
		stored.ReminderLeadDays = s.defaults.ReminderLeadDays
	}
	if stored.ReminderHoursBefore <= 0 {
		stored.ReminderHoursBefore = s.defaults.ReminderHoursBefore
	}
	return stored, nil
}

// Save validates and persists the settings. Recipient numbers are
// canonicalized; blank entries are dropped.
func (s *Store) Save(ctx context.Context, in Settings) (Settings, error) {
	if len(in.NotifyNumbers) > MaxNotifyNumbers {
		return Settings{}, ErrTooManyRecipients
	}

	numbers := make([]string, 0, len(in.NotifyNumbers))
	for _, raw := range in.NotifyNumbers {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		canonical, err := phone.Normalize(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("recipient %q: %w", raw, err)
		}
		numbers = append(numbers, canonical)
	}
	in.NotifyNumbers = numbers
	in.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(in)
	if err != nil {
		return Settings{}, fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return in, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
