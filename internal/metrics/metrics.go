// Package metrics exposes Prometheus counters for the verification core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartattend_sessions_opened_total",
		Help: "Attendance sessions opened.",
	})
	SessionsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartattend_sessions_finalized_total",
		Help: "Attendance sessions finalized.",
	})
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartattend_sessions_expired_total",
		Help: "Attendance sessions that hit their TTL before finalize.",
	})
	SessionsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartattend_sessions_cancelled_total",
		Help: "Attendance sessions cancelled by the teacher.",
	})
	CheckInsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartattend_checkins_confirmed_total",
		Help: "Student check-ins confirmed by code plus face.",
	})
	CheckInsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartattend_checkins_rejected_total",
		Help: "Student check-ins rejected on low match confidence.",
	})
	PhotoSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartattend_photo_submissions_total",
		Help: "Group photos submitted for batch recognition.",
	})
)
