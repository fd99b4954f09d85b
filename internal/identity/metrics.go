package identity

import (
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/gatehouse-dev/gatehouse"

// Stats is a read-only snapshot of one Service's counters. Counters are
// updated atomically but read without coordination between fields, so a
// snapshot taken under load is approximate. Observability only.
type Stats struct {
	SignupSuccess     int64
	SignupFail        int64
	SigninSuccess     int64
	SigninFail        int64
	Signouts          int64
	Renewals          int64
	RememberMeUpdates int64
}

type counters struct {
	signupSuccess     atomic.Int64
	signupFail        atomic.Int64
	signinSuccess     atomic.Int64
	signinFail        atomic.Int64
	signouts          atomic.Int64
	renewals          atomic.Int64
	rememberMeUpdates atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		SignupSuccess:     c.signupSuccess.Load(),
		SignupFail:        c.signupFail.Load(),
		SigninSuccess:     c.signinSuccess.Load(),
		SigninFail:        c.signinFail.Load(),
		Signouts:          c.signouts.Load(),
		Renewals:          c.renewals.Load(),
		RememberMeUpdates: c.rememberMeUpdates.Load(),
	}
}

// Metrics holds the OpenTelemetry metric instruments for the identity
// service.
type Metrics struct {
	SignupSuccessTotal     metric.Int64Counter
	SignupFailTotal        metric.Int64Counter
	SigninSuccessTotal     metric.Int64Counter
	SigninFailTotal        metric.Int64Counter
	SignoutsTotal          metric.Int64Counter
	RenewalsTotal          metric.Int64Counter
	RememberMeUpdatesTotal metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if
// necessary.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SignupSuccessTotal, _ = meter.Int64Counter(
		"gatehouse.signups.success.total",
		metric.WithDescription("Total number of successful sign-ups"),
		metric.WithUnit("{signup}"),
	)

	m.SignupFailTotal, _ = meter.Int64Counter(
		"gatehouse.signups.fail.total",
		metric.WithDescription("Total number of failed sign-ups"),
		metric.WithUnit("{signup}"),
	)

	m.SigninSuccessTotal, _ = meter.Int64Counter(
		"gatehouse.signins.success.total",
		metric.WithDescription("Total number of successful sign-ins"),
		metric.WithUnit("{signin}"),
	)

	m.SigninFailTotal, _ = meter.Int64Counter(
		"gatehouse.signins.fail.total",
		metric.WithDescription("Total number of failed sign-ins"),
		metric.WithUnit("{signin}"),
	)

	m.SignoutsTotal, _ = meter.Int64Counter(
		"gatehouse.signouts.total",
		metric.WithDescription("Total number of sign-outs"),
		metric.WithUnit("{signout}"),
	)

	m.RenewalsTotal, _ = meter.Int64Counter(
		"gatehouse.renewals.total",
		metric.WithDescription("Total number of secure-domain session renewals"),
		metric.WithUnit("{renewal}"),
	)

	m.RememberMeUpdatesTotal, _ = meter.Int64Counter(
		"gatehouse.rememberme.updates.total",
		metric.WithDescription("Total number of remember-me cookie updates"),
		metric.WithUnit("{update}"),
	)

	return m
}
