package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	domain "github.com/hanko-field/product-options/internal/domain"
	"github.com/hanko-field/product-options/internal/repositories"
	"github.com/hanko-field/product-options/internal/repositories/memory"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + strconv.Itoa(n)
	}
}

// giftWrapCatalog is the Gift Wrap / Insurance product with bounds 2..5.
func giftWrapCatalog() domain.OptionCatalog {
	return domain.OptionCatalog{
		ProductID:     "mug",
		Options:       []string{"Gift Wrap", "Insurance"},
		MinSelections: 2,
		MaxSelections: 5,
	}
}

func seededRegistry(catalogs ...domain.OptionCatalog) *memory.Registry {
	reg := memory.NewRegistry()
	for _, catalog := range catalogs {
		_ = reg.Catalogs().Save(context.Background(), catalog)
	}
	return reg
}

type logEntry struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.SelectionFrozenEvent
	err    error
}

func (p *stubPublisher) PublishSelectionFrozen(_ context.Context, event domain.SelectionFrozenEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return "msg-" + event.ID, nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type stubCatalogRepository struct {
	getErr    error
	saveErr   error
	deleteErr error
}

func (s stubCatalogRepository) Get(context.Context, string) (domain.OptionCatalog, error) {
	return domain.OptionCatalog{}, s.getErr
}

func (s stubCatalogRepository) Save(context.Context, domain.OptionCatalog) error { return s.saveErr }

func (s stubCatalogRepository) Delete(context.Context, string) error { return s.deleteErr }

var _ repositories.CatalogRepository = stubCatalogRepository{}
