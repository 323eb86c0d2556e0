package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/njoerd114/itemrelay/internal/model"
	"github.com/njoerd114/itemrelay/internal/remote"
	"github.com/njoerd114/itemrelay/internal/stream"
)

var errStoreDown = errors.New("disk I/O error")

// --- Mock Local Store --------------------------------------------------------

type mockStore struct {
	mu    sync.Mutex
	items map[string]model.Item
	// failWrites makes every mutating call return errStoreDown.
	failWrites bool
	// failReads makes Get and Pending return errStoreDown.
	failReads bool
}

func newMockStore(items ...model.Item) *mockStore {
	m := &mockStore{items: make(map[string]model.Item)}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *mockStore) Active(_ context.Context) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Item
	for _, it := range m.items {
		if it.Status != model.StatusPendingDelete {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Title), strings.ToLower(out[j].Title)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockStore) Watch(ctx context.Context) (<-chan []model.Item, error) {
	ch := make(chan []model.Item, 1)
	items, _ := m.Active(ctx)
	ch <- items
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (m *mockStore) Get(_ context.Context, id string) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errStoreDown
	}
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *mockStore) Pending(_ context.Context) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errStoreDown
	}
	var out []model.Item
	for _, it := range m.items {
		if it.Status.IsPending() {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) CountByStatus(_ context.Context) (map[model.SyncStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.SyncStatus]int)
	for _, it := range m.items {
		counts[it.Status]++
	}
	return counts, nil
}

func (m *mockStore) IsEmpty(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) == 0, nil
}

func (m *mockStore) Upsert(_ context.Context, item model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	m.items[item.ID] = item
	return nil
}

func (m *mockStore) UpdateStatus(_ context.Context, id string, status model.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	if it, ok := m.items[id]; ok {
		it.Status = status
		m.items[id] = it
	}
	return nil
}

func (m *mockStore) DeleteByKey(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	delete(m.items, id)
	return nil
}

func (m *mockStore) DeleteByKeyIfStatus(_ context.Context, id string, status model.SyncStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return false, errStoreDown
	}
	if it, ok := m.items[id]; ok && it.Status == status {
		delete(m.items, id)
		return true, nil
	}
	return false, nil
}

func (m *mockStore) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	m.items = make(map[string]model.Item)
	return nil
}

func (m *mockStore) ReplaceSynced(_ context.Context, items []model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	for id, it := range m.items {
		if it.Status == model.StatusSynced {
			delete(m.items, id)
		}
	}
	for _, it := range items {
		if _, exists := m.items[it.ID]; !exists {
			m.items[it.ID] = it.WithStatus(model.StatusSynced)
		}
	}
	return nil
}

func (m *mockStore) get(id string) (model.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	return it, ok
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *mockStore) setFailWrites(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = v
}

// --- Mock Remote Service -----------------------------------------------------

type mockRemote struct {
	mu    sync.Mutex
	items map[string]model.Item
	calls []string

	// down makes every call fail with a transport error.
	down bool
	// failIDs makes calls touching these ids fail with a transport error.
	failIDs map[string]bool
	// gate, when set, blocks every mutating call until a value is received.
	gate chan struct{}
	// entered receives the operation name when a gated call starts waiting.
	entered chan string
}

func newMockRemote(items ...model.Item) *mockRemote {
	m := &mockRemote{items: make(map[string]model.Item), failIDs: make(map[string]bool)}
	for _, it := range items {
		m.items[it.ID] = it.WithStatus(model.StatusSynced)
	}
	return m
}

func (m *mockRemote) setDown(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = v
}

func (m *mockRemote) failFor(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.failIDs[id] = true
	}
}

// block gates every later mutating call. Each call waits for one value on the
// returned channel.
func (m *mockRemote) block() (release chan struct{}, entered chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.entered = make(chan string, 16)
	return m.gate, m.entered
}

func (m *mockRemote) enter(op, id string) error {
	m.mu.Lock()
	m.calls = append(m.calls, op+" "+id)
	gate, entered := m.gate, m.entered
	m.mu.Unlock()

	if gate != nil {
		entered <- op
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down || m.failIDs[id] {
		return &remote.TransportError{Op: op, Err: errors.New("connection refused")}
	}
	return nil
}

func (m *mockRemote) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return &remote.TransportError{Op: "ping", Err: errors.New("connection refused")}
	}
	return nil
}

func (m *mockRemote) List(_ context.Context) ([]model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, &remote.TransportError{Op: "list", Err: errors.New("connection refused")}
	}
	out := make([]model.Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out, nil
}

func (m *mockRemote) Create(_ context.Context, item model.Item) (model.Item, error) {
	if err := m.enter("create", item.ID); err != nil {
		return model.Item{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[item.ID]; exists {
		return model.Item{}, &remote.RejectedError{Op: "create", StatusCode: 409, Message: "duplicate id"}
	}
	m.items[item.ID] = item.WithStatus(model.StatusSynced)
	return item, nil
}

func (m *mockRemote) Update(_ context.Context, id string, item model.Item) (model.Item, error) {
	if err := m.enter("update", id); err != nil {
		return model.Item{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[id]; !exists {
		return model.Item{}, &remote.RejectedError{Op: "update", StatusCode: 404}
	}
	m.items[id] = item.WithStatus(model.StatusSynced)
	return item, nil
}

func (m *mockRemote) Delete(_ context.Context, id string) error {
	if err := m.enter("delete", id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[id]; !exists {
		return &remote.RejectedError{Op: "delete", StatusCode: 404}
	}
	delete(m.items, id)
	return nil
}

func (m *mockRemote) get(id string) (model.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	return it, ok
}

func (m *mockRemote) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// --- Mock Stream Client ------------------------------------------------------

// mockStream is a stream.Client driven by the test. Every Open pops the next
// scripted error; a nil error connects and parks the handlers for push/fail.
type mockStream struct {
	mu       sync.Mutex
	openErrs []error
	h        *stream.Handlers
	opened   chan struct{}
	tokens   []string
}

func newMockStream(openErrs ...error) *mockStream {
	return &mockStream{openErrs: openErrs, opened: make(chan struct{}, 16)}
}

func (m *mockStream) Open(_ context.Context, h stream.Handlers) error {
	m.mu.Lock()
	var err error
	if len(m.openErrs) > 0 {
		err = m.openErrs[0]
		m.openErrs = m.openErrs[1:]
	}
	if err == nil {
		m.h = &h
	}
	m.mu.Unlock()
	m.opened <- struct{}{}
	return err
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	h := m.h
	m.h = nil
	m.mu.Unlock()
	if h != nil && h.OnClosed != nil {
		h.OnClosed()
	}
	return nil
}

func (m *mockStream) Authorize(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
}

func (m *mockStream) push(raw string) error {
	m.mu.Lock()
	h := m.h
	m.mu.Unlock()
	if h == nil {
		return fmt.Errorf("stream not open")
	}
	h.OnEvent([]byte(raw))
	return nil
}

// fail ends the current connection with an error.
func (m *mockStream) fail(err error) {
	m.mu.Lock()
	h := m.h
	m.h = nil
	m.mu.Unlock()
	if h != nil && h.OnFailure != nil {
		h.OnFailure(err)
	}
}
