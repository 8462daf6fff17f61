// Package cachetest provides an in-memory cache.Cache for tests.
package cachetest

import (
	"context"
	"sync"
	"time"
)

// Message is one Publish call
type Message struct {
	Channel string
	Payload []byte
}

// Memory is an in-memory cache.Cache. TTLs are recorded but never expire entries.
type Memory struct {
	mu        sync.Mutex
	values    map[string][]byte
	ttls      map[string]time.Duration
	published []Message

	// Err, when set, is returned by every operation.
	Err error
	// PublishErr, when set, is returned by Publish only.
	PublishErr error
}

func New() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		ttls:   make(map[string]time.Duration),
	}
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.values[key] = append([]byte(nil), value...)
	m.ttls[key] = ttl
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.values, key)
	delete(m.ttls, key)
	return nil
}

func (m *Memory) Publish(_ context.Context, channel string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.published = append(m.published, Message{Channel: channel, Payload: append([]byte(nil), message...)})
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return m.Err
}

// TTL returns the TTL recorded for key.
func (m *Memory) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}
