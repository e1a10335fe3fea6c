package services

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"aqi-platform/internal/models"
	"aqi-platform/internal/schema"
	"aqi-platform/pkg/mailer"
)

func TestAccessService_Authenticate(t *testing.T) {
	repo := &fakeUserRepo{users: []models.User{
		{ID: 1, Token: "reader", Permission: models.PermissionRead},
		{ID: 2, Token: "writer", Permission: models.PermissionReadWrite},
		{ID: 3, Token: "dup", Permission: models.PermissionReadWrite},
		{ID: 4, Token: "dup", Permission: models.PermissionRead},
	}}
	logger, m := testDeps()
	svc := NewAccessService(repo, logger, m)

	tests := []struct {
		name     string
		token    string
		level    AccessLevel
		wantKind *AuthErrorKind
		wantID   int64
	}{
		{name: "missing token read", token: "", level: AccessRead, wantKind: kind(MissingToken)},
		{name: "missing token write", token: "", level: AccessWrite, wantKind: kind(MissingToken)},
		{name: "unknown token read", token: "nope", level: AccessRead, wantKind: kind(UnknownToken)},
		{name: "unknown token write", token: "nope", level: AccessWrite, wantKind: kind(UnknownToken)},
		{name: "reader reads", token: "reader", level: AccessRead, wantID: 1},
		{name: "reader cannot write", token: "reader", level: AccessWrite, wantKind: kind(InsufficientPermission)},
		{name: "writer writes", token: "writer", level: AccessWrite, wantID: 2},
		{name: "writer reads", token: "writer", level: AccessRead, wantID: 2},
		{name: "duplicate token read is ambiguous", token: "dup", level: AccessRead, wantKind: kind(UnknownToken)},
		{name: "duplicate token write uses first", token: "dup", level: AccessWrite, wantID: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := svc.Authenticate(context.Background(), tt.token, tt.level)
			if tt.wantKind != nil {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("Authenticate() error = %v, want AuthError", err)
				}
				if authErr.Kind != *tt.wantKind {
					t.Errorf("Kind = %v, want %v", authErr.Kind, *tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if user.ID != tt.wantID {
				t.Errorf("user.ID = %d, want %d", user.ID, tt.wantID)
			}
		})
	}

	for reason, want := range map[string]float64{
		"missing_token":           2,
		"unknown_token":           2,
		"insufficient_permission": 1,
		"ambiguous_token":         1,
	} {
		if got := testutil.ToFloat64(m.AuthRejectionsTotal.WithLabelValues(reason)); got != want {
			t.Errorf("auth rejections %q = %v, want %v", reason, got, want)
		}
	}
}

func kind(k AuthErrorKind) *AuthErrorKind { return &k }

func TestAccessService_LookupError(t *testing.T) {
	logger, m := testDeps()
	svc := NewAccessService(&fakeUserRepo{findErr: errBoom}, logger, m)

	_, err := svc.Authenticate(context.Background(), "tok", AccessRead)
	var authErr *AuthError
	if err == nil || errors.As(err, &authErr) {
		t.Errorf("lookup failure should surface as a plain error, got %v", err)
	}
}

func TestAccountingService_Record(t *testing.T) {
	repo := &fakeRequestRepo{}
	pub := &fakePublisher{}
	logger, m := testDeps()
	svc := NewAccountingService(repo, pub, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Record(ctx, "tok", "/current:GET")
	cancel()
	svc.Close()

	if len(repo.requests) != 1 {
		t.Fatalf("recorded %d requests, want 1", len(repo.requests))
	}
	got := repo.requests[0]
	if got.UserToken != "tok" || got.Resource != "/current:GET" || got.TimeUsed.IsZero() {
		t.Errorf("request = %+v", got)
	}
	if len(pub.keys) != 1 || pub.keys[0] != "tok" {
		t.Errorf("published keys = %v", pub.keys)
	}
}

func TestAccountingService_FailureIsSwallowed(t *testing.T) {
	logger, m := testDeps()
	svc := NewAccountingService(&fakeRequestRepo{err: errBoom}, &fakePublisher{}, logger, m)

	svc.Record(context.Background(), "tok", "/predict:POST")
	svc.Close()
}

func newQueryService(mrepo *fakeMeasurementRepo, frepo *fakeForecastRepo) *QueryService {
	logger, m := testDeps()
	svc := NewQueryService(mrepo, frepo, DefaultQueryDefaults(), logger, m)
	svc.now = func() time.Time { return time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC) }
	return svc
}

func TestQueryService_Current(t *testing.T) {
	defaultBox := DefaultQueryDefaults().Box

	tests := []struct {
		name      string
		query     string
		wantBox      *models.BoundingBox
		wantLimit    int
		wantFallback bool
	}{
		{name: "no box returns everything", query: "token=t"},
		{name: "valid box", query: "token=t&bLat=1&tLat=2&lLong=3&rLong=4", wantBox: &models.BoundingBox{BottomLat: 1, TopLat: 2, LeftLong: 3, RightLong: 4}},
		{name: "valid box with limit", query: "token=t&bLat=1&tLat=2&lLong=3&rLong=4&limit=true", wantBox: &models.BoundingBox{BottomLat: 1, TopLat: 2, LeftLong: 3, RightLong: 4}, wantLimit: 5000},
		{name: "partial box falls back", query: "token=t&bLat=1", wantBox: &defaultBox, wantFallback: true},
		{name: "inverted box falls back", query: "token=t&bLat=5&tLat=2&lLong=3&rLong=4&limit=1", wantBox: &defaultBox, wantFallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mrepo := newFakeMeasurementRepo()
			svc := newQueryService(mrepo, &fakeForecastRepo{})
			values, _ := url.ParseQuery(tt.query)

			if _, err := svc.Current(context.Background(), values); err != nil {
				t.Fatalf("Current() error = %v", err)
			}
			f := mrepo.filters[0]
			if (f.Box == nil) != (tt.wantBox == nil) || (f.Box != nil && *f.Box != *tt.wantBox) {
				t.Errorf("Box = %+v, want %+v", f.Box, tt.wantBox)
			}
			if f.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", f.Limit, tt.wantLimit)
			}
			fallbacks := testutil.ToFloat64(svc.metrics.QueryFallbacksTotal.WithLabelValues("current"))
			if (fallbacks == 1) != tt.wantFallback {
				t.Errorf("fallbacks = %v, want fallback %v", fallbacks, tt.wantFallback)
			}
		})
	}
}

func TestQueryService_Historic(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantDates models.DateRange
		wantBox   models.BoundingBox
		wantLimit int
	}{
		{
			name:      "no params uses default window",
			query:     "token=t",
			wantDates: models.DateRange{Start: "2021-06-30", End: "2021-12-31"},
			wantBox:   models.BoundingBox{BottomLat: 38, TopLat: 40, LeftLong: -80, RightLong: -70},
		},
		{
			name:      "valid query",
			query:     "token=t&start=2020-01-01&end=2020-02-01&bLat=10&tLat=20&lLong=-100&rLong=-90&limit=yes",
			wantDates: models.DateRange{Start: "2020-01-01", End: "2020-02-01"},
			wantBox:   models.BoundingBox{BottomLat: 10, TopLat: 20, LeftLong: -100, RightLong: -90},
			wantLimit: 5000,
		},
		{
			name:      "start after end falls back",
			query:     "token=t&start=2020-03-01&end=2020-02-01&bLat=10&tLat=20&lLong=-100&rLong=-90",
			wantDates: models.DateRange{Start: "2021-06-30", End: "2021-12-31"},
			wantBox:   models.BoundingBox{BottomLat: 38, TopLat: 40, LeftLong: -80, RightLong: -70},
		},
		{
			name:      "invalid limit falls back",
			query:     "token=t&start=2020-01-01&end=2020-02-01&bLat=10&tLat=20&lLong=-100&rLong=-90&limit=maybe",
			wantDates: models.DateRange{Start: "2021-06-30", End: "2021-12-31"},
			wantBox:   models.BoundingBox{BottomLat: 38, TopLat: 40, LeftLong: -80, RightLong: -70},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mrepo := newFakeMeasurementRepo()
			svc := newQueryService(mrepo, &fakeForecastRepo{})
			values, _ := url.ParseQuery(tt.query)

			if _, err := svc.Historic(context.Background(), values); err != nil {
				t.Fatalf("Historic() error = %v", err)
			}
			f := mrepo.filters[0]
			if f.Dates == nil || *f.Dates != tt.wantDates {
				t.Errorf("Dates = %+v, want %+v", f.Dates, tt.wantDates)
			}
			if f.Box == nil || *f.Box != tt.wantBox {
				t.Errorf("Box = %+v, want %+v", f.Box, tt.wantBox)
			}
			if f.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", f.Limit, tt.wantLimit)
			}
		})
	}
}

func TestQueryService_ForecastsStartToday(t *testing.T) {
	frepo := &fakeForecastRepo{}
	svc := newQueryService(newFakeMeasurementRepo(), frepo)

	values, _ := url.ParseQuery("token=t")
	if _, err := svc.Forecasts(context.Background(), values); err != nil {
		t.Fatalf("Forecasts() error = %v", err)
	}
	values, _ = url.ParseQuery("token=t&bLat=0&tLat=1&lLong=0&rLong=1&limit=on")
	if _, err := svc.Forecasts(context.Background(), values); err != nil {
		t.Fatalf("Forecasts() error = %v", err)
	}

	for i, f := range frepo.filters {
		if f.FromDate != "2026-10-18" {
			t.Errorf("filter %d FromDate = %q, want today in UTC", i, f.FromDate)
		}
	}
	if frepo.filters[0].Limit != 0 || frepo.filters[1].Limit != 5000 {
		t.Errorf("limits = %d, %d", frepo.filters[0].Limit, frepo.filters[1].Limit)
	}
}

func TestQueryService_ModelData(t *testing.T) {
	mrepo := newFakeMeasurementRepo()
	mrepo.result = []models.Measurement{{Date: "2021-01-01", AQI: 10}}
	svc := newQueryService(mrepo, &fakeForecastRepo{})

	raw := []byte(`[
		{"Start":"2021-01-01","End":"2021-01-30","Location":{"Lat":1,"Long":2}},
		{"Start":"2021-02-01","End":"2021-03-02","Location":{"Lat":3,"Long":4}}
	]`)
	queries, err := schema.DecodeModelDataQueries(raw, svc.EarliestDate(), svc.Today())
	if err != nil {
		t.Fatalf("DecodeModelDataQueries() error = %v", err)
	}

	out, err := svc.ModelData(context.Background(), queries)
	if err != nil {
		t.Fatalf("ModelData() error = %v", err)
	}
	if len(out) != 2 {
		t.Errorf("ModelData() returned %d records, want 2", len(out))
	}
	if f := mrepo.filters[1]; *f.Lat != 3 || *f.Long != 4 || f.Dates.Start != "2021-02-01" || f.Box != nil {
		t.Errorf("second filter = %+v", f)
	}
}

func TestMeasurementService_InsertDerivesCategory(t *testing.T) {
	mrepo := newFakeMeasurementRepo()
	logger, m := testDeps()
	svc := NewMeasurementService(mrepo, logger, m)

	records, err := schema.DecodeMeasurements([]byte(`[{"Date":"2022-06-29","AQI":18,"Category":"Hazardous","Defining_Parameter":"PM2.5","Location":{"Lat":46.2406,"Long":-63.1306}}]`))
	if err != nil {
		t.Fatalf("DecodeMeasurements() error = %v", err)
	}
	if err := svc.Insert(context.Background(), models.CollectionCurrent, records); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got := mrepo.inserted[models.CollectionCurrent]
	if len(got) != 1 || got[0].Category != models.CategoryGood {
		t.Errorf("inserted = %+v", got)
	}

	if err := svc.DeleteAll(context.Background(), models.CollectionCurrent); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if len(mrepo.inserted[models.CollectionCurrent]) != 0 {
		t.Error("DeleteAll() left records behind")
	}
	if got := testutil.ToFloat64(m.RecordsDeletedTotal.WithLabelValues("current")); got != 1 {
		t.Errorf("records deleted = %v, want 1", got)
	}
}

const forecastJSON = `[{"Date":"2030-01-01","Predictions":{"Days_in_Advance":7,"Pred_AQI":55},"Location":{"Lat":40,"Long":-75}}]`

func newForecastService() (*ForecastService, *fakeForecastRepo) {
	repo := &fakeForecastRepo{}
	logger, m := testDeps()
	return NewForecastService(repo, logger, m), repo
}

func TestForecastService_InsertThenAppend(t *testing.T) {
	svc, repo := newForecastService()
	ctx := context.Background()

	records, err := schema.DecodeForecasts([]byte(forecastJSON))
	if err != nil {
		t.Fatalf("DecodeForecasts() error = %v", err)
	}
	if err := svc.Insert(ctx, records); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	f := repo.forecasts[0]
	if f.RealAQI != models.RealAQIUnknown || f.RealCategory != models.CategoryNotAvailable || len(f.Predictions) != 1 {
		t.Fatalf("inserted forecast = %+v", f)
	}

	patch, _ := schema.DecodeForecastPatch([]byte(`{"Predictions":[{"Date":"2030-01-01","Predictions":{"Days_in_Advance":1,"Pred_AQI":120},"Location":{"Lat":40,"Long":-75}}]}`))
	res, err := svc.Patch(ctx, patch)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if res.PredictionsApplied != 1 {
		t.Errorf("PredictionsApplied = %d, want 1", res.PredictionsApplied)
	}

	preds := repo.forecasts[0].Predictions
	if len(preds) != 2 {
		t.Fatalf("len(Predictions) = %d, want 2", len(preds))
	}
	if preds[0].DaysInAdvance != 7 || preds[1].PredCategory != models.CategoryUnhealthyForSensitive {
		t.Errorf("Predictions = %+v", preds)
	}
}

func TestForecastService_PatchActual(t *testing.T) {
	svc, repo := newForecastService()
	ctx := context.Background()
	records, _ := schema.DecodeForecasts([]byte(forecastJSON))
	_ = svc.Insert(ctx, records)

	tests := []struct {
		name        string
		body        string
		wantApplied int
		wantAQI     int
	}{
		{
			name:        "no match is a silent no-op",
			body:        `{"Actual":[{"Date":"2031-01-01","AQI":10,"Defining_Parameter":"OZONE","Location":{"Lat":40,"Long":-75}}]}`,
			wantApplied: 0,
			wantAQI:     models.RealAQIUnknown,
		},
		{
			name:        "match overwrites",
			body:        `{"Actual":[{"Date":"2030-01-01","AQI":210,"Defining_Parameter":"OZONE","Location":{"Lat":40,"Long":-75}}]}`,
			wantApplied: 1,
			wantAQI:     210,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, _ := schema.DecodeForecastPatch([]byte(tt.body))
			res, err := svc.Patch(ctx, patch)
			if err != nil {
				t.Fatalf("Patch() error = %v", err)
			}
			if res.ActualsApplied != tt.wantApplied {
				t.Errorf("ActualsApplied = %d, want %d", res.ActualsApplied, tt.wantApplied)
			}
			if len(repo.forecasts) != 1 {
				t.Errorf("patch created records: %d forecasts", len(repo.forecasts))
			}
			if repo.forecasts[0].RealAQI != tt.wantAQI {
				t.Errorf("RealAQI = %d, want %d", repo.forecasts[0].RealAQI, tt.wantAQI)
			}
		})
	}

	if repo.forecasts[0].RealCategory != models.CategoryVeryUnhealthy {
		t.Errorf("RealCategory = %q", repo.forecasts[0].RealCategory)
	}
	for result, want := range map[string]float64{"matched": 1, "missed": 1} {
		if got := testutil.ToFloat64(svc.metrics.ForecastPatchTotal.WithLabelValues("actual", result)); got != want {
			t.Errorf("actual %s = %v, want %v", result, got, want)
		}
	}
}

func TestForecastService_PatchListsAreIndependent(t *testing.T) {
	svc, repo := newForecastService()
	ctx := context.Background()
	records, _ := schema.DecodeForecasts([]byte(forecastJSON))
	_ = svc.Insert(ctx, records)

	body := `{
		"Predictions":[{"Date":"2030-01-01","Predictions":{"Days_in_Advance":9,"Pred_AQI":1},"Location":{"Lat":40,"Long":-75}}],
		"Actual":[{"Date":"2030-01-01","AQI":42,"Defining_Parameter":"CO","Location":{"Lat":40,"Long":-75}}]
	}`
	patch, _ := schema.DecodeForecastPatch([]byte(body))
	res, err := svc.Patch(ctx, patch)

	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Patch() error = %v, want ValidationError", err)
	}
	if res.PredictionsApplied != 0 || res.ActualsApplied != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(repo.forecasts[0].Predictions) != 1 || repo.forecasts[0].RealAQI != 42 {
		t.Errorf("forecast = %+v", repo.forecasts[0])
	}
}

func TestInferenceService_Predict(t *testing.T) {
	logger, m := testDeps()
	model := &fakeModel{}
	svc := NewInferenceService(model, logger, m)

	window := make([]int, schema.WindowLength)
	for i := range window {
		window[i] = 100
	}

	out, err := svc.Predict(context.Background(), [][]int{window})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	// The fake returns the standardized mean, so the value round-trips.
	if len(out) != 1 || (out[0] != 100 && out[0] != 99) {
		t.Errorf("Predict() = %v, want [100]", out)
	}

	empty, err := svc.Predict(context.Background(), nil)
	if err != nil || len(empty) != 0 || model.calls != 1 {
		t.Errorf("empty Predict() = %v, %v (calls %d)", empty, err, model.calls)
	}
}

func TestInferenceService_ModelError(t *testing.T) {
	logger, m := testDeps()
	svc := NewInferenceService(&fakeModel{err: errBoom}, logger, m)

	if _, err := svc.Predict(context.Background(), [][]int{{1}}); !errors.Is(err, errBoom) {
		t.Errorf("Predict() error = %v, want wrapped model error", err)
	}
}

func TestInferenceService_ShortModelResponse(t *testing.T) {
	logger, m := testDeps()
	svc := NewInferenceService(&fakeModel{short: true}, logger, m)

	if _, err := svc.Predict(context.Background(), [][]int{{1}, {2}}); err == nil {
		t.Fatal("Predict() should fail when the model returns fewer values than windows")
	}
	if got := testutil.ToFloat64(m.InferenceFailuresTotal); got != 1 {
		t.Errorf("inference failures = %v, want 1", got)
	}
}

func TestStandardizeRoundTrip(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 0},
		{43, 42},
		{44, 43},
		{500, 499},
	}
	for _, tt := range tests {
		std := Standardize([][]int{{tt.in}})[0][0]
		got := Destandardize([]float64{std})[0]
		if got != tt.in && got != tt.want {
			t.Errorf("round trip of %d = %d", tt.in, got)
		}
	}
}

func newProvisioningService(repo *fakeUserRepo, queue *fakeQueue, now time.Time) *ProvisioningService {
	logger, m := testDeps()
	svc := NewProvisioningService(repo, NewTokenIssuer("secret"), queue, 24*time.Hour, logger, m)
	svc.now = func() time.Time { return now }
	return svc
}

func TestProvisioningService_NewThenCooldown(t *testing.T) {
	repo := &fakeUserRepo{}
	queue := &fakeQueue{}
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	svc := newProvisioningService(repo, queue, now)
	ctx := context.Background()

	outcome, err := svc.RequestToken(ctx, "a@b.io")
	if err != nil || outcome != NewUserCreated {
		t.Fatalf("first RequestToken() = %v, %v", outcome, err)
	}
	if len(repo.users) != 1 || repo.users[0].Permission != models.PermissionRead || repo.users[0].Token == "" {
		t.Fatalf("users = %+v", repo.users)
	}
	if len(queue.messages) != 1 || queue.messages[0].Subject != mailer.SubjectNewToken {
		t.Fatalf("messages = %+v", queue.messages)
	}

	if _, err := svc.RequestToken(ctx, "a@b.io"); !errors.Is(err, models.ErrCooldownActive) {
		t.Errorf("second RequestToken() error = %v, want ErrCooldownActive", err)
	}
	if len(queue.messages) != 1 {
		t.Errorf("cooldown still queued an email")
	}
	for outcome, want := range map[string]float64{"created": 1, "cooldown": 1} {
		if got := testutil.ToFloat64(svc.metrics.ProvisioningResultTotal.WithLabelValues(outcome)); got != want {
			t.Errorf("provisioning %s = %v, want %v", outcome, got, want)
		}
	}
}

func TestProvisioningService_ExistingAfterCooldown(t *testing.T) {
	joined := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeUserRepo{nextID: 7, users: []models.User{
		{ID: 7, Email: "a@b.io", Token: "old-token", LastEmail: joined},
	}}
	queue := &fakeQueue{}
	now := joined.Add(25 * time.Hour)
	svc := newProvisioningService(repo, queue, now)

	outcome, err := svc.RequestToken(context.Background(), "a@b.io")
	if err != nil || outcome != ExistingUserNotified {
		t.Fatalf("RequestToken() = %v, %v", outcome, err)
	}
	if len(queue.messages) != 1 || queue.messages[0].Token != "old-token" || queue.messages[0].Subject != mailer.SubjectRetrieveToken {
		t.Errorf("messages = %+v", queue.messages)
	}
	if !repo.users[0].LastEmail.Equal(now) {
		t.Errorf("LastEmail = %v, want %v", repo.users[0].LastEmail, now)
	}
}

func TestProvisioningService_DuplicateEmail(t *testing.T) {
	repo := &fakeUserRepo{users: []models.User{
		{ID: 1, Email: "a@b.io"},
		{ID: 2, Email: "a@b.io"},
	}}
	svc := newProvisioningService(repo, &fakeQueue{}, time.Now())

	if _, err := svc.RequestToken(context.Background(), "a@b.io"); !errors.Is(err, models.ErrDuplicateEmail) {
		t.Errorf("RequestToken() error = %v, want ErrDuplicateEmail", err)
	}
}

func TestProvisioningService_LostRegistrationRace(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	repo := &fakeUserRepo{}
	// Another request registers the same email after our lookup found nothing
	repo.beforeCreate = func() {
		repo.beforeCreate = nil
		repo.mu.Lock()
		repo.nextID++
		repo.users = append(repo.users, models.User{ID: repo.nextID, Email: "a@b.io", Token: "winner-token", LastEmail: now})
		repo.mu.Unlock()
	}
	queue := &fakeQueue{}
	svc := newProvisioningService(repo, queue, now)

	if _, err := svc.RequestToken(context.Background(), "a@b.io"); !errors.Is(err, models.ErrCooldownActive) {
		t.Fatalf("RequestToken() error = %v, want ErrCooldownActive", err)
	}
	if len(repo.users) != 1 || repo.users[0].Token != "winner-token" {
		t.Errorf("users = %+v", repo.users)
	}
	if len(queue.messages) != 0 {
		t.Errorf("losing request queued %d emails", len(queue.messages))
	}
	if got := testutil.ToFloat64(svc.metrics.ProvisioningResultTotal.WithLabelValues("race")); got != 1 {
		t.Errorf("provisioning race = %v, want 1", got)
	}

	// Later requests take the single-user path instead of failing as duplicates
	later := newProvisioningService(repo, queue, now.Add(25*time.Hour))
	outcome, err := later.RequestToken(context.Background(), "a@b.io")
	if err != nil || outcome != ExistingUserNotified {
		t.Errorf("later RequestToken() = %v, %v", outcome, err)
	}
}

func TestProvisioningService_ConcurrentNewUser(t *testing.T) {
	repo := &fakeUserRepo{}
	queue := &fakeQueue{}
	svc := newProvisioningService(repo, queue, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))

	const callers = 8
	var wg sync.WaitGroup
	outcomes := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestToken(context.Background(), "a@b.io")
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	created := 0
	for err := range outcomes {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, models.ErrCooldownActive):
			t.Errorf("RequestToken() error = %v", err)
		}
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if len(repo.users) != 1 {
		t.Errorf("users = %d, want 1", len(repo.users))
	}
}

func TestTokenIssuer_UniquePerCall(t *testing.T) {
	issuer := NewTokenIssuer("secret")
	now := time.Now()

	a, err := issuer.Issue("a@b.io", now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	b, _ := issuer.Issue("a@b.io", now)
	if a == b {
		t.Error("two tokens for the same email should differ")
	}
}
