package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
)

const namespace = "dao"

// Prometheus counts governance operations. A nil *Prometheus is valid and
// records nothing.
type Prometheus struct {
	stakes            prometheus.Counter
	unstakes          prometheus.Counter
	proposals         prometheus.Counter
	votes             *prometheus.CounterVec
	delegations       prometheus.Counter
	resolutions       *prometheus.CounterVec
	recipientFailures prometheus.Counter
}

// NewPrometheus registers the collectors on reg, reusing collectors that
// were registered before.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Prometheus{
		stakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stakes_total", Help: "successful stake deposits",
		}),
		unstakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "unstakes_total", Help: "successful stake withdrawals",
		}),
		proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "proposals_created_total", Help: "proposals registered",
		}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "votes_total", Help: "direct votes cast by direction",
		}, []string{"support"}),
		delegations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "delegations_total", Help: "per-proposal delegations recorded",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "proposals_finished_total", Help: "proposals resolved by final status",
		}, []string{"status"}),
		recipientFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "recipient_call_failures_total", Help: "finish attempts rolled back by a failed recipient call",
		}),
	}

	var err error
	if m.stakes, err = registerCounter(reg, "stakes counter", m.stakes); err != nil {
		return nil, err
	}
	if m.unstakes, err = registerCounter(reg, "unstakes counter", m.unstakes); err != nil {
		return nil, err
	}
	if m.proposals, err = registerCounter(reg, "proposals counter", m.proposals); err != nil {
		return nil, err
	}
	if m.delegations, err = registerCounter(reg, "delegations counter", m.delegations); err != nil {
		return nil, err
	}
	if m.recipientFailures, err = registerCounter(reg, "recipient failures counter", m.recipientFailures); err != nil {
		return nil, err
	}
	if m.votes, err = registerCounterVec(reg, "votes counter", m.votes); err != nil {
		return nil, err
	}
	if m.resolutions, err = registerCounterVec(reg, "resolutions counter", m.resolutions); err != nil {
		return nil, err
	}
	return m, nil
}

func registerCounter(reg prometheus.Registerer, name string, c prometheus.Counter) (prometheus.Counter, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("cannot register %s: %w", name, err)
}

func registerCounterVec(reg prometheus.Registerer, name string, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("cannot register %s: %w", name, err)
}

func (m *Prometheus) Staked() {
	if m != nil {
		m.stakes.Inc()
	}
}

func (m *Prometheus) Unstaked() {
	if m != nil {
		m.unstakes.Inc()
	}
}

func (m *Prometheus) ProposalCreated() {
	if m != nil {
		m.proposals.Inc()
	}
}

func (m *Prometheus) Voted(support bool) {
	if m == nil {
		return
	}
	label := "against"
	if support {
		label = "for"
	}
	m.votes.WithLabelValues(label).Inc()
}

func (m *Prometheus) Delegated() {
	if m != nil {
		m.delegations.Inc()
	}
}

func (m *Prometheus) Finished(status domain.Status) {
	if m != nil {
		m.resolutions.WithLabelValues(status.String()).Inc()
	}
}

func (m *Prometheus) RecipientCallFailed() {
	if m != nil {
		m.recipientFailures.Inc()
	}
}
