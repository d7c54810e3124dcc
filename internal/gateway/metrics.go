package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rockgate_inbound_messages_total",
		Help: "Inbound messages received, before policy evaluation.",
	}, []string{"account", "transport"})

	policyDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rockgate_policy_drops_total",
		Help: "Messages dropped by policy, by reason.",
	}, []string{"account", "reason"})

	admittedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rockgate_admitted_messages_total",
		Help: "Messages admitted to the agent layer.",
	}, []string{"account"})

	outboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rockgate_outbound_sends_total",
		Help: "Outbound delivery attempts, by result.",
	}, []string{"account", "result"})

	connectionDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rockgate_connection_drops_total",
		Help: "Push connection losses triggering reconnect.",
	}, []string{"account"})
)
