package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

func TestRenderBody(t *testing.T) {
	body, err := RenderBody("tok.en.value")
	if err != nil {
		t.Fatalf("RenderBody() error = %v", err)
	}

	want := "Below is your token for access to OpenAQI's API:\ntok.en.value\n" +
		"For instructions on how to use your API token, visit openaqi.io/api\n\n" +
		"Kind Regards,\n\nOpenAQI Support\nsupport@openaqi.io"
	if body != want {
		t.Errorf("RenderBody() =\n%q\nwant\n%q", body, want)
	}
}

func TestFormatSubject(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"[OpenAQI]", "[OpenAQI] OpenAQI API Token Request"},
		{"", "OpenAQI API Token Request"},
		{"  ", "OpenAQI API Token Request"},
	}
	for _, tt := range tests {
		if got := FormatSubject(tt.prefix, SubjectNewToken); got != tt.want {
			t.Errorf("FormatSubject(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestSMTPNotifier_Unconfigured(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{})
	if n.Configured() {
		t.Fatal("Configured() = true for empty host")
	}
	if err := n.Send(context.Background(), Message{To: "a@b.c"}); err == nil {
		t.Error("Send() without relay should fail")
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Message
	err  error
	gate chan struct{}
}

func (r *recordingNotifier) Send(_ context.Context, msg Message) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func newTestCollector() *metrics.Collector {
	return metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

func TestDispatcher_DeliversQueuedMessages(t *testing.T) {
	rec := &recordingNotifier{}
	m := newTestCollector()
	d := NewDispatcher(rec, 10, 2, logging.NewNopLogger(), m)

	for _, to := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		if !d.Enqueue(context.Background(), Message{To: to, Subject: SubjectNewToken, Token: "t"}) {
			t.Fatalf("Enqueue(%s) = false", to)
		}
	}
	d.Close()

	if len(rec.sent) != 3 {
		t.Errorf("sent %d messages, want 3", len(rec.sent))
	}
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("sent")); got != 3 {
		t.Errorf("sent counter = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.NotificationQueue); got != 0 {
		t.Errorf("queue gauge = %v, want 0", got)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	rec := &recordingNotifier{gate: make(chan struct{})}
	m := newTestCollector()
	d := NewDispatcher(rec, 1, 1, logging.NewNopLogger(), m)

	// The worker blocks on the first message; the second fills the queue.
	d.Enqueue(context.Background(), Message{To: "1"})
	queued := 1
	dropped := 0
	for i := 0; i < 5; i++ {
		if d.Enqueue(context.Background(), Message{To: "n"}) {
			queued++
		} else {
			dropped++
		}
	}
	if dropped == 0 {
		t.Error("expected drops with a full queue")
	}

	close(rec.gate)
	d.Close()

	if len(rec.sent) != queued {
		t.Errorf("sent %d messages, want %d", len(rec.sent), queued)
	}
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("dropped")); int(got) != dropped {
		t.Errorf("dropped counter = %v, want %d", got, dropped)
	}
}

func TestDispatcher_CountsFailures(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("relay down")}
	m := newTestCollector()
	d := NewDispatcher(rec, 4, 1, logging.NewNopLogger(), m)

	d.Enqueue(context.Background(), Message{To: "a@x.io"})
	d.Close()

	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed counter = %v, want 1", got)
	}
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewDispatcher(&recordingNotifier{}, 4, 1, logging.NewNopLogger(), newTestCollector())
	d.Close()
	d.Close()

	if d.Enqueue(context.Background(), Message{To: "late"}) {
		t.Error("Enqueue() after Close should return false")
	}
}
