package facestore

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process store for dev and tests.
type Memory struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{templates: make(map[string]Template)}
}

func (m *Memory) Add(_ context.Context, t Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
	return nil
}

func (m *Memory) ListByStudent(_ context.Context, studentID string) ([]Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Template
	for _, t := range m.templates {
		if t.StudentID == studentID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Get(_ context.Context, templateID string) (Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[templateID]
	if !ok {
		return Template{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) Delete(_ context.Context, templateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[templateID]; !ok {
		return ErrNotFound
	}
	delete(m.templates, templateID)
	return nil
}

func (m *Memory) CountByStudent(_ context.Context, studentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.templates {
		if t.StudentID == studentID {
			n++
		}
	}
	return n, nil
}
