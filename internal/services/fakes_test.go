package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/mailer"
	"aqi-platform/pkg/metrics"
)

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	return logging.NewNopLogger(), metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

type fakeUserRepo struct {
	mu      sync.Mutex
	users   []models.User
	nextID  int64
	findErr error

	// beforeCreate runs at the start of Create, outside the lock
	beforeCreate func()
}

func (r *fakeUserRepo) FindByToken(_ context.Context, token string, limit int) ([]models.User, error) {
	return r.find(func(u models.User) bool { return u.Token == token }, limit)
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string, limit int) ([]models.User, error) {
	return r.find(func(u models.User) bool { return u.Email == email }, limit)
}

func (r *fakeUserRepo) find(match func(models.User) bool, limit int) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []models.User
	for _, u := range r.users {
		if match(u) {
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	if r.beforeCreate != nil {
		r.beforeCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return models.ErrEmailTaken
		}
	}
	r.nextID++
	user.ID = r.nextID
	r.users = append(r.users, *user)
	return nil
}

func (r *fakeUserRepo) UpdateLastEmail(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].LastEmail = at
			return nil
		}
	}
	return &repository.NotFoundError{Resource: "user", ID: "x"}
}

type fakeMeasurementRepo struct {
	mu       sync.Mutex
	inserted map[models.Collection][]models.Measurement
	filters  []repository.MeasurementFilter
	result   []models.Measurement
	deleted  int
}

func newFakeMeasurementRepo() *fakeMeasurementRepo {
	return &fakeMeasurementRepo{inserted: make(map[models.Collection][]models.Measurement)}
}

func (r *fakeMeasurementRepo) InsertBatch(_ context.Context, c models.Collection, records []models.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted[c] = append(r.inserted[c], records...)
	return nil
}

func (r *fakeMeasurementRepo) Find(_ context.Context, _ models.Collection, filter repository.MeasurementFilter) ([]models.Measurement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, filter)
	return r.result, nil
}

func (r *fakeMeasurementRepo) DeleteAll(_ context.Context, c models.Collection) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.inserted[c])
	delete(r.inserted, c)
	r.deleted++
	return int64(n), nil
}

func (r *fakeMeasurementRepo) HealthCheck(context.Context) error { return nil }

// fakeForecastRepo applies mutations to the first stored forecast matching a key
type fakeForecastRepo struct {
	mu        sync.Mutex
	forecasts []models.Forecast
	filters   []repository.ForecastFilter
}

func (r *fakeForecastRepo) InsertBatch(_ context.Context, forecasts []models.Forecast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forecasts = append(r.forecasts, forecasts...)
	return nil
}

func (r *fakeForecastRepo) Find(_ context.Context, filter repository.ForecastFilter) ([]models.Forecast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, filter)
	return r.forecasts, nil
}

func (r *fakeForecastRepo) match(key models.ForecastKey) int {
	for i, f := range r.forecasts {
		if f.Date == key.Date && f.Location.Lat == key.Lat && f.Location.Long == key.Long {
			return i
		}
	}
	return -1
}

func (r *fakeForecastRepo) AppendPredictions(_ context.Context, appends []repository.PredictionAppend) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range appends {
		if i := r.match(a.Key); i >= 0 {
			r.forecasts[i].Predictions = append(r.forecasts[i].Predictions, a.Prediction)
			n++
		}
	}
	return n, nil
}

func (r *fakeForecastRepo) SetActuals(_ context.Context, updates []repository.ActualUpdate) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range updates {
		if i := r.match(u.Key); i >= 0 {
			r.forecasts[i].RealAQI = u.RealAQI
			r.forecasts[i].RealCategory = u.RealCategory
			n++
		}
	}
	return n, nil
}

type fakeRequestRepo struct {
	mu       sync.Mutex
	requests []models.Request
	err      error
}

func (r *fakeRequestRepo) Insert(_ context.Context, req models.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.requests = append(r.requests, req)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) Publish(_ context.Context, key string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeQueue struct {
	mu       sync.Mutex
	messages []mailer.Message
}

func (q *fakeQueue) Enqueue(_ context.Context, msg mailer.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return true
}

// fakeModel returns the mean of each standardized window
type fakeModel struct {
	err   error
	calls int
	// short drops the last prediction
	short bool
}

func (m *fakeModel) Predict(_ context.Context, windows [][]float64) ([]float64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float64, len(windows))
	for i, w := range windows {
		var sum float64
		for _, x := range w {
			sum += x
		}
		out[i] = sum / float64(len(w))
	}
	if m.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

var errBoom = errors.New("boom")
