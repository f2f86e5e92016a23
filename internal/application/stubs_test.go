package application

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/SonJH7/Yakssok/internal/google"
	"github.com/SonJH7/Yakssok/internal/persistence"
	"github.com/SonJH7/Yakssok/internal/scheduler"
)

var testNow = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

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

// memoryStore implements both repositories over maps and returns the same
// persistence sentinels as the SQLite adapter.
type memoryStore struct {
	mu             sync.Mutex
	appointments   map[string]Appointment
	participations map[string]Participation
	order          []string
	leases         map[string]time.Time
	createErrs     []error
	recordErr      error
	recorded       []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		appointments:   make(map[string]Appointment),
		participations: make(map[string]Participation),
		leases:         make(map[string]time.Time),
	}
}

func (m *memoryStore) CreateAppointment(ctx context.Context, appointment Appointment, creator Participation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, existing := range m.appointments {
		if existing.InviteCode == appointment.InviteCode {
			return persistence.ErrDuplicate
		}
	}
	m.appointments[appointment.ID] = appointment
	m.participations[creator.ID] = creator
	m.order = append(m.order, creator.ID)
	return nil
}

func (m *memoryStore) GetAppointment(ctx context.Context, id string) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appointment, ok := m.appointments[id]
	if !ok {
		return Appointment{}, persistence.ErrNotFound
	}
	return appointment, nil
}

func (m *memoryStore) GetAppointmentByInviteCode(ctx context.Context, code string) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, appointment := range m.appointments {
		if appointment.InviteCode == code {
			return appointment, nil
		}
	}
	return Appointment{}, persistence.ErrNotFound
}

func (m *memoryStore) ListAppointmentsForUser(ctx context.Context, userID string) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, id := range m.order {
		p := m.participations[id]
		if p.UserID == userID {
			out = append(out, m.appointments[p.AppointmentID])
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteAppointment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(m.appointments, id)
	m.order = slices.DeleteFunc(m.order, func(pid string) bool {
		if m.participations[pid].AppointmentID == id {
			delete(m.participations, pid)
			return true
		}
		return false
	})
	return nil
}

func (m *memoryStore) ConfirmAppointment(ctx context.Context, id string, confirmation Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	appointment, ok := m.appointments[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if appointment.Status != AppointmentOpen {
		return persistence.ErrConflict
	}
	appointment.Status = AppointmentConfirmed
	appointment.Confirmation = &confirmation
	m.appointments[id] = appointment
	return nil
}

func (m *memoryStore) CreateParticipation(ctx context.Context, participation Participation, maxParticipants int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.participations {
		if p.AppointmentID != participation.AppointmentID {
			continue
		}
		if p.UserID == participation.UserID {
			return persistence.ErrDuplicate
		}
		count++
	}
	if count >= maxParticipants {
		return persistence.ErrCapacityReached
	}
	m.participations[participation.ID] = participation
	m.order = append(m.order, participation.ID)
	return nil
}

func (m *memoryStore) GetParticipation(ctx context.Context, appointmentID, userID string) (Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participations {
		if p.AppointmentID == appointmentID && p.UserID == userID {
			return p, nil
		}
	}
	return Participation{}, persistence.ErrNotFound
}

func (m *memoryStore) ListParticipations(ctx context.Context, appointmentID string) ([]Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Participation
	for _, id := range m.order {
		if p := m.participations[id]; p.AppointmentID == appointmentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateAvailability(ctx context.Context, participationID string, intervals []scheduler.Interval, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participations[participationID]
	if !ok {
		return persistence.ErrNotFound
	}
	p.Availability = intervals
	p.AvailabilitySubmitted = true
	p.UpdatedAt = updatedAt
	m.participations[participationID] = p
	return nil
}

func (m *memoryStore) UpdateStatus(ctx context.Context, participationID string, status ParticipationStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participations[participationID]
	if !ok {
		return persistence.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = updatedAt
	m.participations[participationID] = p
	return nil
}

func (m *memoryStore) ClaimSync(ctx context.Context, participationID string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participations[participationID]; !ok {
		return false, persistence.ErrNotFound
	}
	if held, ok := m.leases[participationID]; ok && held.After(now) {
		return false, nil
	}
	m.leases[participationID] = until
	return true, nil
}

func (m *memoryStore) RecordSync(ctx context.Context, participationID string, state SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	p, ok := m.participations[participationID]
	if !ok {
		return persistence.ErrNotFound
	}
	delete(m.leases, participationID)
	eventID := p.Sync.EventID
	if state.EventID != "" {
		eventID = state.EventID
	}
	p.Sync = state
	p.Sync.EventID = eventID
	m.participations[participationID] = p
	m.recorded = append(m.recorded, participationID)
	return nil
}

func (m *memoryStore) ListResyncCandidates(ctx context.Context, errorCodes []string, limit int) ([]Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Participation
	for _, id := range m.order {
		p := m.participations[id]
		if m.appointments[p.AppointmentID].Status != AppointmentConfirmed {
			continue
		}
		if _, leased := m.leases[id]; leased {
			continue
		}
		if p.Sync.Status == SyncPending || (p.Sync.Status == SyncFailed && slices.Contains(errorCodes, p.Sync.ErrorCode)) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) participation(userID string) Participation {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participations {
		if p.UserID == userID {
			return p
		}
	}
	return Participation{}
}

func (m *memoryStore) appointment(id string) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appointments[id]
}

func (m *memoryStore) seed(appointment Appointment, participants ...Participation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[appointment.ID] = appointment
	for _, p := range participants {
		if p.ID == "" {
			p.ID = "part-" + p.UserID
		}
		if p.AppointmentID == "" {
			p.AppointmentID = appointment.ID
		}
		if p.Status == "" {
			p.Status = ParticipationJoined
		}
		m.participations[p.ID] = p
		m.order = append(m.order, p.ID)
	}
}

type userRegistryStub struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (u *userRegistryStub) EnsureUser(ctx context.Context, userID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.users = append(u.users, userID)
	return nil
}

type credentialStub struct {
	tokens map[string]string
	err    error
}

func (c *credentialStub) RefreshToken(ctx context.Context, userID string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.tokens[userID], nil
}

func (c *credentialStub) StoreRefreshToken(ctx context.Context, userID, refreshToken string) error {
	if c.tokens == nil {
		c.tokens = make(map[string]string)
	}
	c.tokens[userID] = refreshToken
	return nil
}

type tokenResult struct {
	access string
	err    error
}

type tokenStub struct {
	mu      sync.Mutex
	results map[string]tokenResult
	calls   []string
}

func (t *tokenStub) Refresh(ctx context.Context, refreshToken string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, refreshToken)
	result, ok := t.results[refreshToken]
	if !ok {
		return "access-" + refreshToken, nil
	}
	return result.access, result.err
}

type upsertCall struct {
	accessToken string
	eventID     string
	input       google.EventInput
}

type writerStub struct {
	mu      sync.Mutex
	calls   []upsertCall
	respond func(call upsertCall) (string, error)
}

func (w *writerStub) UpsertEvent(ctx context.Context, accessToken, eventID string, input google.EventInput) (string, error) {
	call := upsertCall{accessToken: accessToken, eventID: eventID, input: input}
	w.mu.Lock()
	w.calls = append(w.calls, call)
	respond := w.respond
	w.mu.Unlock()
	if respond != nil {
		return respond(call)
	}
	if eventID != "" {
		return eventID, nil
	}
	return "evt-" + accessToken, nil
}

func (w *writerStub) callsFor(accessToken string) []upsertCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []upsertCall
	for _, call := range w.calls {
		if call.accessToken == accessToken {
			out = append(out, call)
		}
	}
	return out
}

type readerStub struct {
	mu      sync.Mutex
	page    google.EventPage
	err     error
	access  string
	options google.ListOptions
	calls   int
	respond func(opts google.ListOptions) (google.EventPage, error)
}

func (r *readerStub) ListEvents(ctx context.Context, accessToken string, opts google.ListOptions) (google.EventPage, error) {
	r.mu.Lock()
	r.access = accessToken
	r.options = opts
	r.calls++
	respond := r.respond
	page, err := r.page, r.err
	r.mu.Unlock()
	if respond != nil {
		return respond(opts)
	}
	if err != nil {
		return google.EventPage{}, err
	}
	return page, nil
}

type syncTriggerStub struct {
	mu     sync.Mutex
	ids    []string
	ctxErr error
}

func (s *syncTriggerStub) SyncAppointment(ctx context.Context, appointmentID string) (SyncSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, appointmentID)
	s.ctxErr = ctx.Err()
	return SyncSummary{Total: 1, Success: 1}, nil
}

func mustDate(value string) scheduler.Date {
	date, err := scheduler.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return date
}
