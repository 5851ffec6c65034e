package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
	redisstore "github.com/99minutos/reservation-system/internal/infrastructure/db/redis"
	"github.com/99minutos/reservation-system/internal/infrastructure/lock"
)

// ---------------------------------------------------------------------------
// In-memory stubs
// ---------------------------------------------------------------------------

type stubReservationRepo struct {
	mu        sync.Mutex
	items     map[string]domain.Reservation
	createErr error // if set, Create returns this error
	updateErr error
	findErr   error
	listErr   error
	writes    int
	// slow widens the window between the conflict read and the insert.
	slow time.Duration
	// entered, when set, is signalled as a Create starts waiting out slow.
	entered chan struct{}
}

func newStubReservationRepo() *stubReservationRepo {
	return &stubReservationRepo{items: make(map[string]domain.Reservation)}
}

func (r *stubReservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	if r.slow > 0 {
		select {
		case r.entered <- struct{}{}:
		default:
		}
		select {
		case <-time.After(r.slow):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.items[res.ID] = *res
	r.writes++
	return nil
}

func (r *stubReservationRepo) FindByID(_ context.Context, id string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	res, ok := r.items[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return &res, nil
}

func (r *stubReservationRepo) Update(_ context.Context, res *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.items[res.ID]; !ok {
		return domain.ErrReservationNotFound
	}
	r.items[res.ID] = *res
	r.writes++
	return nil
}

func (r *stubReservationRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return domain.ErrReservationNotFound
	}
	delete(r.items, id)
	r.writes++
	return nil
}

// List applies the same filters the real stores would use, in map order.
func (r *stubReservationRepo) List(_ context.Context, f ports.ListReservationsFilter) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := []domain.Reservation{}
	for _, res := range r.items {
		res := res
		if !f.Scope.Matches(&res) {
			continue
		}
		if f.Status != "" && res.Status != f.Status {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *stubReservationRepo) FindActiveByProvider(_ context.Context, providerID string, window domain.Interval) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []domain.Reservation
	for _, res := range r.items {
		if res.ProviderID == providerID && res.Status.IsActive() && res.Interval().Overlaps(window) {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *stubReservationRepo) activeFor(providerID string) []domain.Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Reservation
	for _, res := range r.items {
		if res.ProviderID == providerID && res.Status.IsActive() {
			out = append(out, res)
		}
	}
	return out
}

type stubUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	findErr error
	seq     int
}

func newStubUserRepo(users ...*domain.User) *stubUserRepo {
	repo := &stubUserRepo{byID: make(map[string]*domain.User)}
	for _, u := range users {
		repo.byID[u.ID] = u
	}
	return repo
}

func (r *stubUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *stubUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.byID {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *stubUserRepo) Create(_ context.Context, u *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	clone := *u
	clone.ID = fmt.Sprintf("user_%d", r.seq)
	r.byID[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (r *stubUserRepo) AddRole(_ context.Context, id string, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	roles := domain.NewRoleSet(role)
	for existing := range u.Roles {
		roles[existing] = struct{}{}
	}
	u.Roles = roles
	return nil
}

type stubIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (s *stubIdempotency) Lookup(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *stubIdempotency) Remember(_ context.Context, key, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = id
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ReservationEvent
}

func (p *recordingPublisher) Publish(e domain.ReservationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type failingLocker struct{ err error }

func (f failingLocker) Lock(context.Context, string) (context.Context, func(), error) {
	return nil, nil, f.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var (
	admin    = domain.Identity{UserID: "admin_1", Roles: domain.NewRoleSet(domain.RoleAdmin)}
	client   = domain.Identity{UserID: "client_1", Roles: domain.NewRoleSet(domain.RoleClient)}
	stranger = domain.Identity{UserID: "client_2", Roles: domain.NewRoleSet(domain.RoleClient)}
	provider = domain.Identity{UserID: "provider_a", Roles: domain.NewRoleSet(domain.RoleProvider)}
)

type fixture struct {
	svc    *ReservationService
	repo   *stubReservationRepo
	users  *stubUserRepo
	events *recordingPublisher
	idem   *stubIdempotency
	hist   *stubEventRepo
}

func newFixture() *fixture {
	f := &fixture{
		repo: newStubReservationRepo(),
		users: newStubUserRepo(
			&domain.User{ID: "admin_1", Roles: domain.NewRoleSet(domain.RoleAdmin)},
			&domain.User{ID: "client_1", Roles: domain.NewRoleSet(domain.RoleClient)},
			&domain.User{ID: "client_2", Roles: domain.NewRoleSet(domain.RoleClient)},
			&domain.User{ID: "provider_a", Roles: domain.NewRoleSet(domain.RoleProvider)},
			&domain.User{ID: "provider_b", Roles: domain.NewRoleSet(domain.RoleProvider)},
		),
		events: &recordingPublisher{},
		idem:   &stubIdempotency{keys: make(map[string]string)},
		hist:   &stubEventRepo{},
	}
	var seq int64
	f.svc = NewReservationService(ReservationDeps{
		Reservations: f.repo,
		Users:        f.users,
		Locker:       lock.NewLocal(),
		Idempotency:  f.idem,
		Events:       f.events,
		History:      f.hist,
		Clock:        fixedClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		NewID: func() string {
			return fmt.Sprintf("id-%04d", atomic.AddInt64(&seq, 1))
		},
	}, zerolog.Nop())
	return f
}

func (f *fixture) create(t *testing.T, providerID, start string, minutes int) *domain.Reservation {
	t.Helper()
	res, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
		ProviderID:      providerID,
		Start:           start,
		DurationMinutes: minutes,
	}, client)
	if err != nil {
		t.Fatalf("create %s %s: %v", providerID, start, err)
	}
	return res.Reservation
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_HappyPath(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
		ProviderID:      "provider_a",
		Start:           "2025-04-01T10:00:00-06:00",
		DurationMinutes: 60,
		Note:            "ring twice",
	}, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := res.Reservation
	if r.Status != domain.StatusPending {
		t.Errorf("expected pending, got %s", r.Status)
	}
	if r.ClientID != "client_1" || r.ProviderID != "provider_a" {
		t.Errorf("unexpected parties: %+v", r)
	}
	if !r.Start.Equal(time.Date(2025, 4, 1, 16, 0, 0, 0, time.UTC)) || r.Start.Location() != time.UTC {
		t.Errorf("expected start normalised to UTC, got %s", r.Start)
	}
	if !r.End.Equal(r.Start.Add(time.Hour)) {
		t.Errorf("expected end = start + 60m, got %s", r.End)
	}
	if res.AlreadyExisted {
		t.Error("AlreadyExisted must be false on first create")
	}
	if got := f.events.types(); len(got) != 1 || got[0] != domain.EventReservationCreated {
		t.Errorf("expected one created event, got %v", got)
	}
}

func TestCreate_ValidationFailuresDoNotWrite(t *testing.T) {
	cases := []struct {
		name  string
		input ports.CreateReservationInput
	}{
		{"zero duration", ports.CreateReservationInput{ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: 0}},
		{"negative duration", ports.CreateReservationInput{ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: -30}},
		{"unparsable start", ports.CreateReservationInput{ProviderID: "provider_a", Start: "tomorrow at ten", DurationMinutes: 60}},
		{"empty start", ports.CreateReservationInput{ProviderID: "provider_a", DurationMinutes: 60}},
		{"missing provider", ports.CreateReservationInput{Start: "2025-04-01T10:00:00Z", DurationMinutes: 60}},
		{"unknown provider", ports.CreateReservationInput{ProviderID: "ghost", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60}},
		{"provider without role", ports.CreateReservationInput{ProviderID: "client_2", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60}},
		{"self booking", ports.CreateReservationInput{ProviderID: "client_1", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60}},
		{"note too long", ports.CreateReservationInput{ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60, Note: string(make([]rune, domain.MaxNoteLength+1))}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Create(context.Background(), tc.input, client)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if f.repo.writes != 0 {
				t.Errorf("expected no write, got %d", f.repo.writes)
			}
		})
	}
}

func TestCreate_ProviderOnlyIdentityForbidden(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
		ProviderID: "provider_b", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60,
	}, provider)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreate_ConflictAndAdjacentSlot(t *testing.T) {
	f := newFixture()
	first := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	_, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
		ProviderID: "provider_a", Start: "2025-04-01T10:30:00Z", DurationMinutes: 60,
	}, client)
	if !errors.Is(err, domain.ErrBookingConflict) {
		t.Fatalf("expected ErrBookingConflict, got %v", err)
	}
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
	if len(conflict.Conflicts) != 1 || conflict.Conflicts[0].ID != first.ID {
		t.Errorf("expected conflict with %s, got %+v", first.ID, conflict.Conflicts)
	}

	// Touching boundary is not a conflict.
	f.create(t, "provider_a", "2025-04-01T11:00:00Z", 60)
	// Another provider is independent.
	f.create(t, "provider_b", "2025-04-01T10:30:00Z", 60)
}

func TestCreate_InactiveReservationsDoNotBlock(t *testing.T) {
	f := newFixture()
	first := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)
	if _, err := f.svc.Cancel(context.Background(), first.ID, client); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)
}

func TestCreate_IdempotentReplay(t *testing.T) {
	f := newFixture()
	input := ports.CreateReservationInput{
		ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60, IdempotencyKey: "key-1",
	}

	first, err := f.svc.Create(context.Background(), input, client)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := f.svc.Create(context.Background(), input, client)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.AlreadyExisted || second.Reservation.ID != first.Reservation.ID {
		t.Errorf("expected replay of %s, got %+v", first.Reservation.ID, second)
	}
	if f.repo.writes != 1 {
		t.Errorf("expected one write, got %d", f.repo.writes)
	}
}

func TestCreate_IdempotencyKeysAreScopedToCaller(t *testing.T) {
	f := newFixture()
	input := ports.CreateReservationInput{
		ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60, IdempotencyKey: "same",
	}
	if _, err := f.svc.Create(context.Background(), input, client); err != nil {
		t.Fatal(err)
	}

	input.Start = "2025-04-01T12:00:00Z"
	res, err := f.svc.Create(context.Background(), input, stranger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AlreadyExisted || res.Reservation.ClientID != "client_2" {
		t.Errorf("key from another caller must not replay: %+v", res)
	}
}

func TestCreate_StorageFailureWrapsErrStorage(t *testing.T) {
	f := newFixture()
	f.repo.createErr = errors.New("connection reset")

	_, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
		ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60,
	}, client)
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if len(f.events.types()) != 0 {
		t.Error("no event expected on failed create")
	}
}

func TestCreate_LockFailureWrapsErrStorage(t *testing.T) {
	f := newFixture()
	f.svc.locker = failingLocker{err: context.DeadlineExceeded}

	_, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
		ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60,
	}, client)
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if f.repo.writes != 0 {
		t.Error("expected no write without the lock")
	}
}

func TestCreate_ConcurrentOverlappingRequests(t *testing.T) {
	f := newFixture()
	f.repo.slow = 2 * time.Millisecond

	const attempts = 25
	var (
		wg        sync.WaitGroup
		succeeded int32
		conflicts int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Starts lie within 30 minutes of each other, so every pair overlaps.
			start := time.Date(2025, 4, 1, 9, 30+i%30, 0, 0, time.UTC).Format(time.RFC3339)
			_, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
				ProviderID: "provider_a", Start: start, DurationMinutes: 60,
			}, client)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, domain.ErrBookingConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly one booking, got %d ok / %d conflicts", succeeded, conflicts)
	}

	active := f.repo.activeFor("provider_a")
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			if domain.Overlaps(active[i].Interval(), active[j].Interval()) {
				t.Fatalf("overlapping active reservations: %s and %s", active[i].ID, active[j].ID)
			}
		}
	}
}

func TestCreate_ConcurrentRetriesWithSameKey(t *testing.T) {
	f := newFixture()
	f.repo.slow = 5 * time.Millisecond
	input := ports.CreateReservationInput{
		ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60, IdempotencyKey: "retry-1",
	}

	const attempts = 10
	var (
		wg       sync.WaitGroup
		created  int32
		replayed int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Create(context.Background(), input, client)
			switch {
			case err != nil:
				t.Errorf("retry must replay, not fail: %v", err)
			case res.AlreadyExisted:
				atomic.AddInt32(&replayed, 1)
			default:
				atomic.AddInt32(&created, 1)
			}
		}()
	}
	wg.Wait()

	if created != 1 || replayed != attempts-1 {
		t.Fatalf("expected one create and %d replays, got %d / %d", attempts-1, created, replayed)
	}
	if f.repo.writes != 1 {
		t.Errorf("expected one write, got %d", f.repo.writes)
	}
}

func TestCreate_LostRedisLockAbortsWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	const ttl = 300 * time.Millisecond
	f := newFixture()
	f.svc.locker = redisstore.NewProviderLock(rdb, ttl)
	f.repo.slow = time.Second
	f.repo.entered = make(chan struct{}, 1)

	first := make(chan error, 1)
	go func() {
		_, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
			ProviderID: "provider_a", Start: "2025-04-01T10:00:00Z", DurationMinutes: 60,
		}, client)
		first <- err
	}()

	select {
	case <-f.repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first create never reached the insert")
	}
	// The holder stalls past the TTL and the key expires under it.
	mr.FastForward(ttl)

	second, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
		ProviderID: "provider_a", Start: "2025-04-01T10:30:00Z", DurationMinutes: 30,
	}, client)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	select {
	case err := <-first:
		if !errors.Is(err, domain.ErrStorage) || !errors.Is(err, redisstore.ErrLockLost) {
			t.Fatalf("expected lost-lock storage error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("first create did not return")
	}

	active := f.repo.activeFor("provider_a")
	if len(active) != 1 || active[0].ID != second.Reservation.ID {
		t.Fatalf("expected only %s active, got %+v", second.Reservation.ID, active)
	}
}

// ---------------------------------------------------------------------------
// Read
// ---------------------------------------------------------------------------

func TestGet_Authorization(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	for _, who := range []domain.Identity{client, provider, admin} {
		if _, err := f.svc.Get(context.Background(), r.ID, who); err != nil {
			t.Errorf("%s should read: %v", who.UserID, err)
		}
	}
	if _, err := f.svc.Get(context.Background(), r.ID, stranger); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), "missing", admin); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Errorf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestList_ScopeAndOrdering(t *testing.T) {
	f := newFixture()
	late := f.create(t, "provider_a", "2025-04-01T15:00:00Z", 30)
	early := f.create(t, "provider_b", "2025-04-01T08:00:00Z", 30)
	mid := f.create(t, "provider_a", "2025-04-01T12:00:00Z", 30)
	if _, err := f.svc.Create(context.Background(), ports.CreateReservationInput{
		ProviderID: "provider_a", Start: "2025-04-02T09:00:00Z", DurationMinutes: 30,
	}, stranger); err != nil {
		t.Fatal(err)
	}

	mine, err := f.svc.List(context.Background(), ports.ListReservationsInput{}, client)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{early.ID, mid.ID, late.ID}
	if len(mine) != len(want) {
		t.Fatalf("expected %d reservations, got %d", len(want), len(mine))
	}
	for i, id := range want {
		if mine[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, mine[i].ID)
		}
	}

	asProvider, err := f.svc.List(context.Background(), ports.ListReservationsInput{}, provider)
	if err != nil {
		t.Fatalf("provider list: %v", err)
	}
	if len(asProvider) != 3 {
		t.Errorf("provider_a should see its 3 bookings, got %d", len(asProvider))
	}

	all, err := f.svc.List(context.Background(), ports.ListReservationsInput{}, admin)
	if err != nil || len(all) != 4 {
		t.Errorf("admin should see all 4, got %d (%v)", len(all), err)
	}
}

func TestList_FiltersAndErrors(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)
	f.create(t, "provider_a", "2025-04-01T12:00:00Z", 60)
	if _, err := f.svc.Cancel(context.Background(), r.ID, client); err != nil {
		t.Fatal(err)
	}

	cancelled, err := f.svc.List(context.Background(), ports.ListReservationsInput{Status: "cancelled"}, client)
	if err != nil || len(cancelled) != 1 || cancelled[0].ID != r.ID {
		t.Errorf("expected only the cancelled reservation, got %v (%v)", cancelled, err)
	}

	if _, err := f.svc.List(context.Background(), ports.ListReservationsInput{Status: "archived"}, client); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown status, got %v", err)
	}
	if _, err := f.svc.List(context.Background(), ports.ListReservationsInput{As: "provider"}, client); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("client listing as provider: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.List(context.Background(), ports.ListReservationsInput{}, domain.Identity{UserID: "x"}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("role-less caller: expected ErrForbidden, got %v", err)
	}

	f.repo.listErr = errors.New("timeout")
	if _, err := f.svc.List(context.Background(), ports.ListReservationsInput{}, client); !errors.Is(err, domain.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestList_LegacyCleanerRoleName(t *testing.T) {
	f := newFixture()
	f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	got, err := f.svc.List(context.Background(), ports.ListReservationsInput{As: "cleaner"}, provider)
	if err != nil || len(got) != 1 {
		t.Errorf("expected 1 reservation as cleaner, got %d (%v)", len(got), err)
	}
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func TestUpdate_PendingRescheduleRechecksConflicts(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)
	f.create(t, "provider_a", "2025-04-01T12:00:00Z", 60)

	// Into the other booking.
	_, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Start: strPtr("2025-04-01T11:30:00Z")}, client)
	if !errors.Is(err, domain.ErrBookingConflict) {
		t.Fatalf("expected ErrBookingConflict, got %v", err)
	}

	// Overlapping only its own old slot is fine.
	updated, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{
		Start:           strPtr("2025-04-01T10:30:00Z"),
		DurationMinutes: intPtr(90),
	}, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.End.Equal(time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("expected end 12:00, got %s", updated.End)
	}
	stored, _ := f.repo.FindByID(context.Background(), r.ID)
	if !stored.Start.Equal(updated.Start) {
		t.Error("update not persisted")
	}
	types := f.events.types()
	if types[len(types)-1] != domain.EventReservationRescheduled {
		t.Errorf("expected rescheduled event, got %v", types)
	}
}

func TestUpdate_AcceptedCannotBeRescheduled(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)
	if _, err := f.svc.Decide(context.Background(), r.ID, domain.StatusAccepted, provider); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Start: strPtr("2025-04-01T14:00:00Z")}, client)
	if !errors.Is(err, domain.ErrNotPending) || !domain.IsStateError(err) {
		t.Fatalf("expected state error, got %v", err)
	}
	_, err = f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Note: strPtr("late")}, admin)
	if !domain.IsStateError(err) {
		t.Fatalf("admin is still bound by state rules, got %v", err)
	}
}

func TestUpdate_Authorization(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Note: strPtr("x")}, stranger); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("stranger: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Note: strPtr("x")}, provider); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("provider edit: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Note: strPtr("by admin")}, admin); err != nil {
		t.Errorf("admin edit: %v", err)
	}
}

func TestUpdate_StatusField(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Status: strPtr("accepted")}, client); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("client accepting: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Status: strPtr("pending")}, admin); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("to pending: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Status: strPtr("done")}, admin); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown status: expected ErrValidation, got %v", err)
	}

	got, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Status: strPtr("accepted")}, provider)
	if err != nil || got.Status != domain.StatusAccepted {
		t.Fatalf("provider accept via patch: %v", err)
	}
	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{Status: strPtr("rejected")}, provider); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("accepted to rejected: expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdate_EditWithCurrentPendingStatus(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	got, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{
		Note:   strPtr("gate code 1234"),
		Status: strPtr("pending"),
	}, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Note != "gate code 1234" || got.Status != domain.StatusPending {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestUpdate_EmptyPatchAndMissing(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{}, client); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty patch: expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), "missing", ports.UpdateReservationInput{Note: strPtr("x")}, admin); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Errorf("expected ErrReservationNotFound, got %v", err)
	}
	if _, err := f.svc.Update(context.Background(), r.ID, ports.UpdateReservationInput{DurationMinutes: intPtr(0)}, client); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("zero duration: expected ErrValidation, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Decide / Cancel / Delete
// ---------------------------------------------------------------------------

func TestDecide_Authorization(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	if _, err := f.svc.Decide(context.Background(), r.ID, domain.StatusAccepted, client); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("client: expected ErrForbidden, got %v", err)
	}
	otherProvider := domain.Identity{UserID: "provider_b", Roles: domain.NewRoleSet(domain.RoleProvider)}
	if _, err := f.svc.Decide(context.Background(), r.ID, domain.StatusRejected, otherProvider); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("other provider: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Decide(context.Background(), r.ID, domain.StatusCancelled, provider); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("cancel as decision: expected ErrValidation, got %v", err)
	}

	got, err := f.svc.Decide(context.Background(), r.ID, domain.StatusRejected, provider)
	if err != nil || got.Status != domain.StatusRejected {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.Decide(context.Background(), r.ID, domain.StatusAccepted, admin); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("rejected is terminal, got %v", err)
	}
}

func TestCancel_Lifecycle(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	if _, err := f.svc.Cancel(context.Background(), r.ID, stranger); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("stranger: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Decide(context.Background(), r.ID, domain.StatusAccepted, provider); err != nil {
		t.Fatal(err)
	}

	// Accepted reservations may still be cancelled by the client.
	if _, err := f.svc.Cancel(context.Background(), r.ID, client); err != nil {
		t.Fatalf("cancel accepted: %v", err)
	}
	got, err := f.svc.Get(context.Background(), r.ID, client)
	if err != nil || got.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled on get, got %+v (%v)", got, err)
	}

	_, err = f.svc.Cancel(context.Background(), r.ID, client)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("re-cancel: expected ErrInvalidTransition, got %v", err)
	}
	again, _ := f.svc.Get(context.Background(), r.ID, admin)
	if again.Status != domain.StatusCancelled {
		t.Error("failed re-cancel must leave state unchanged")
	}

	want := []domain.EventType{domain.EventReservationCreated, domain.EventReservationAccepted, domain.EventReservationCancelled}
	got2 := f.events.types()
	if len(got2) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got2)
	}
	for i := range want {
		if got2[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got2[i])
		}
	}
}

func TestCancel_AdminAlwaysAllowed(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)
	if _, err := f.svc.Cancel(context.Background(), r.ID, admin); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
}

func TestDelete_AdminOnly(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)

	if err := f.svc.Delete(context.Background(), r.ID, client); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("client: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.Delete(context.Background(), r.ID, admin); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := f.repo.FindByID(context.Background(), r.ID); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Error("expected record removed")
	}
	if err := f.svc.Delete(context.Background(), r.ID, admin); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Errorf("second delete: expected ErrReservationNotFound, got %v", err)
	}
	types := f.events.types()
	if types[len(types)-1] != domain.EventReservationDeleted {
		t.Errorf("expected deleted event, got %v", types)
	}
}

func TestUpdate_StorageFailureWrapsErrStorage(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)
	f.repo.updateErr = errors.New("write concern")

	if _, err := f.svc.Cancel(context.Background(), r.ID, client); !errors.Is(err, domain.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistory(t *testing.T) {
	f := newFixture()
	r := f.create(t, "provider_a", "2025-04-01T10:00:00Z", 60)
	_ = f.hist.InsertEvent(context.Background(), &domain.ReservationEvent{ID: "e1", ReservationID: r.ID, Type: domain.EventReservationCreated})

	events, err := f.svc.History(context.Background(), r.ID, provider)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 event, got %d (%v)", len(events), err)
	}
	if _, err := f.svc.History(context.Background(), r.ID, stranger); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	f.hist.listErr = errors.New("cursor closed")
	if _, err := f.svc.History(context.Background(), r.ID, client); !errors.Is(err, domain.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}
