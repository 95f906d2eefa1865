package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal metric is nil")
	}
	if m.WSSessionsActive == nil {
		t.Error("WSSessionsActive metric is nil")
	}
	if m.ConnectDuration == nil {
		t.Error("ConnectDuration metric is nil")
	}
}

func TestRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.RecordRequest("GET", "2xx", 0.01)
	m.RecordRequest("GET", "2xx", 0.02)
	m.RecordRequest("POST", "4xx", 0.005)

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "2xx"))
	if got != 2 {
		t.Errorf("HTTPRequestsTotal[GET,2xx] = %v, want 2", got)
	}
	got = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "4xx"))
	if got != 1 {
		t.Errorf("HTTPRequestsTotal[POST,4xx] = %v, want 1", got)
	}
}

func TestSessionOpenedClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	got := testutil.ToFloat64(m.HTTPSessionsActive)
	if got != 1 {
		t.Errorf("HTTPSessionsActive = %v, want 1", got)
	}
}

func TestWSSessionOpenedClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.WSSessionOpened()
	m.WSSessionOpened()
	m.WSSessionOpened()
	m.WSSessionClosed()

	got := testutil.ToFloat64(m.WSSessionsActive)
	if got != 2 {
		t.Errorf("WSSessionsActive = %v, want 2", got)
	}
}

func TestRecordWSSendReceive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.RecordWSSend(3)
	m.RecordWSSend(1)
	m.RecordWSReceive()

	sent := testutil.ToFloat64(m.WSMessagesSentTotal)
	if sent != 2 {
		t.Errorf("WSMessagesSentTotal = %v, want 2", sent)
	}
	recv := testutil.ToFloat64(m.WSMessagesReceivedTotal)
	if recv != 1 {
		t.Errorf("WSMessagesReceivedTotal = %v, want 1", recv)
	}
}

func TestRecordExecutorRejection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.RecordExecutorRejection("channel_full")
	m.RecordExecutorRejection("channel_full")
	m.RecordExecutorRejection("pool_full")

	got := testutil.ToFloat64(m.ExecutorRejectionsTotal.WithLabelValues("channel_full"))
	if got != 2 {
		t.Errorf("ExecutorRejectionsTotal[channel_full] = %v, want 2", got)
	}
}

func TestRecordConnectAndError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.RecordConnect("wss", 0.25)
	m.RecordConnectError("wss")
	m.RecordConnectError("wss")

	errs := testutil.ToFloat64(m.ConnectErrorsTotal.WithLabelValues("wss"))
	if errs != 2 {
		t.Errorf("ConnectErrorsTotal[wss] = %v, want 2", errs)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	// None of these should panic on a nil receiver.
	m.RecordRequest("GET", "2xx", 0.01)
	m.SessionOpened()
	m.SessionClosed()
	m.ObserveQueueDepth(3)
	m.WSSessionOpened()
	m.WSSessionClosed()
	m.RecordWSSend(1)
	m.RecordWSReceive()
	m.RecordExecutorRejection("pool_full")
	m.RecordConnect("http", 0.1)
	m.RecordConnectError("http")
}
