package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benthel_bus_events_published_total",
		Help: "Change events published, by table.",
	}, []string{"table"})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benthel_bus_events_delivered_total",
		Help: "Change event deliveries to subscriptions, by topic.",
	}, []string{"topic"})
)
