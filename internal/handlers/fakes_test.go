package handlers

import (
	"context"
	"sync"
	"time"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/pkg/mailer"
)

// In-memory repositories that apply filters the way the SQL layer does

type memUserRepo struct {
	mu     sync.Mutex
	users  []models.User
	nextID int64
}

func (r *memUserRepo) FindByToken(_ context.Context, token string, limit int) ([]models.User, error) {
	return r.find(func(u models.User) bool { return u.Token == token }, limit), nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string, limit int) ([]models.User, error) {
	return r.find(func(u models.User) bool { return u.Email == email }, limit), nil
}

func (r *memUserRepo) find(match func(models.User) bool, limit int) []models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.User
	for _, u := range r.users {
		if match(u) {
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
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

func (r *memUserRepo) UpdateLastEmail(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID == id {
			r.users[i].LastEmail = at
		}
	}
	return nil
}

func inBox(loc models.Location, box *models.BoundingBox) bool {
	if box == nil {
		return true
	}
	return loc.Lat >= box.BottomLat && loc.Lat <= box.TopLat &&
		loc.Long >= box.LeftLong && loc.Long <= box.RightLong
}

type memMeasurementRepo struct {
	mu        sync.Mutex
	records   map[models.Collection][]models.Measurement
	healthErr error

	// beforeDelete runs at the start of DeleteAll, outside the lock
	beforeDelete func()
}

func newMemMeasurementRepo() *memMeasurementRepo {
	return &memMeasurementRepo{records: make(map[models.Collection][]models.Measurement)}
}

func (r *memMeasurementRepo) InsertBatch(_ context.Context, c models.Collection, records []models.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[c] = append(r.records[c], records...)
	return nil
}

func (r *memMeasurementRepo) Find(_ context.Context, c models.Collection, f repository.MeasurementFilter) ([]models.Measurement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Measurement
	for _, m := range r.records[c] {
		if !inBox(m.Location, f.Box) {
			continue
		}
		if f.Dates != nil && (m.Date < f.Dates.Start || m.Date > f.Dates.End) {
			continue
		}
		if f.Lat != nil && m.Location.Lat != *f.Lat {
			continue
		}
		if f.Long != nil && m.Location.Long != *f.Long {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *memMeasurementRepo) DeleteAll(_ context.Context, c models.Collection) (int64, error) {
	if r.beforeDelete != nil {
		r.beforeDelete()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.records[c])
	delete(r.records, c)
	return int64(n), nil
}

func (r *memMeasurementRepo) HealthCheck(context.Context) error { return r.healthErr }

type memForecastRepo struct {
	mu        sync.Mutex
	forecasts []models.Forecast
}

func (r *memForecastRepo) InsertBatch(_ context.Context, forecasts []models.Forecast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forecasts = append(r.forecasts, forecasts...)
	return nil
}

func (r *memForecastRepo) Find(_ context.Context, f repository.ForecastFilter) ([]models.Forecast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Forecast
	for _, fc := range r.forecasts {
		if fc.Date < f.FromDate || !inBox(fc.Location, f.Box) {
			continue
		}
		out = append(out, fc)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *memForecastRepo) index(key models.ForecastKey) int {
	for i, fc := range r.forecasts {
		if fc.Date == key.Date && fc.Location.Lat == key.Lat && fc.Location.Long == key.Long {
			return i
		}
	}
	return -1
}

func (r *memForecastRepo) AppendPredictions(_ context.Context, appends []repository.PredictionAppend) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range appends {
		if i := r.index(a.Key); i >= 0 {
			r.forecasts[i].Predictions = append(r.forecasts[i].Predictions, a.Prediction)
			n++
		}
	}
	return n, nil
}

func (r *memForecastRepo) SetActuals(_ context.Context, updates []repository.ActualUpdate) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range updates {
		if i := r.index(u.Key); i >= 0 {
			r.forecasts[i].RealAQI = u.RealAQI
			r.forecasts[i].RealCategory = u.RealCategory
			n++
		}
	}
	return n, nil
}

type memRequestRepo struct {
	mu       sync.Mutex
	requests []models.Request
}

func (r *memRequestRepo) Insert(_ context.Context, req models.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return nil
}

func (r *memRequestRepo) resources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.requests))
	for i, req := range r.requests {
		out[i] = req.Resource
	}
	return out
}

type memQueue struct {
	mu       sync.Mutex
	messages []mailer.Message
}

func (q *memQueue) Enqueue(_ context.Context, msg mailer.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return true
}

func (q *memQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// stubModel echoes the last standardized value of each window
type stubModel struct {
	err error
}

func (m *stubModel) Predict(_ context.Context, windows [][]float64) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float64, len(windows))
	for i, w := range windows {
		out[i] = w[len(w)-1]
	}
	return out, nil
}
