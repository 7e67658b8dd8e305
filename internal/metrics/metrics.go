package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the attendance subsystem.
type Metrics struct {
	CheckIns         *prometheus.CounterVec
	CheckInRejected  *prometheus.CounterVec
	BatchRecords     *prometheus.CounterVec
	AdminOverrides   *prometheus.CounterVec
	SchedulerJobsRun *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CheckIns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "club_attendance_checkins_total",
			Help: "Successful student check-ins by resulting status",
		}, []string{"status"}),
		CheckInRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "club_attendance_checkin_rejections_total",
			Help: "Rejected check-ins by reason",
		}, []string{"reason"}),
		BatchRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "club_attendance_batch_records_total",
			Help: "Records touched by initializer and sweeper runs",
		}, []string{"operation", "result"}),
		AdminOverrides: f.NewCounterVec(prometheus.CounterOpts{
			Name: "club_attendance_admin_overrides_total",
			Help: "Administrative status overrides by target status",
		}, []string{"status"}),
		SchedulerJobsRun: f.NewCounterVec(prometheus.CounterOpts{
			Name: "club_attendance_scheduler_jobs_total",
			Help: "Scheduler jobs processed by kind and outcome",
		}, []string{"kind", "result"}),
	}
}

// Nop returns collectors registered against a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) CheckedIn(status string) {
	if m == nil {
		return
	}
	m.CheckIns.WithLabelValues(status).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.CheckInRejected.WithLabelValues(reason).Inc()
}

// Batch adds n to the batch counter for operation/result.
func (m *Metrics) Batch(operation, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.BatchRecords.WithLabelValues(operation, result).Add(float64(n))
}

func (m *Metrics) Override(status string) {
	if m == nil {
		return
	}
	m.AdminOverrides.WithLabelValues(status).Inc()
}

func (m *Metrics) Job(kind, result string) {
	if m == nil {
		return
	}
	m.SchedulerJobsRun.WithLabelValues(kind, result).Inc()
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr at /metrics until ctx ends. Processes without an
// HTTP API, such as the worker, use it.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
