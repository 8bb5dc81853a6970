package api

import (
	"sort"
	"sync"
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/sink"
	"github.com/fako1024/scalebridge/pkg/stabilizer"
	"github.com/fatih/stopwatch"
)

// SampleStatus denotes the last reading obtained from the device
type SampleStatus struct {
	Weight    float64   `json:"weight"`
	Unit      string    `json:"unit"`
	Outcome   string    `json:"outcome"`
	TimeStamp time.Time `json:"timestamp"`
}

// SinkStatus denotes the delivery statistics of a single sink
type SinkStatus struct {
	Name         string    `json:"name"`
	Deliveries   uint64    `json:"deliveries"`
	Failures     uint64    `json:"failures"`
	LastError    string    `json:"last_error,omitempty"`
	LastDelivery time.Time `json:"last_delivery"`
}

// Status denotes a snapshot of the bridge state
type Status struct {
	Device      string        `json:"device"`
	Connection  string        `json:"connection"`
	LastError   string        `json:"last_error,omitempty"`
	Phase       string        `json:"phase"`
	StableCount int           `json:"stable_count"`
	Polls       uint64        `json:"polls"`
	LastSample  *SampleStatus `json:"last_sample,omitempty"`
	LastEvent   *sink.Payload `json:"last_event,omitempty"`
	Events      uint64        `json:"events"`
	Sinks       []SinkStatus  `json:"sinks"`
	Uptime      float64       `json:"uptime_seconds"`
}

// Monitor denotes a passive observer of the engine and forwarder, fed via
// their handler functions. It never talks to the device itself
type Monitor struct {
	device string

	mu         sync.RWMutex
	connection scale.ConnectionStatus
	lastPoll   *stabilizer.Poll
	polls      uint64
	lastEvent  *scale.StableWeight
	events     uint64
	sinks      map[string]*SinkStatus

	timer *stopwatch.Stopwatch
}

// NewMonitor instantiates a new Monitor for the device at the provided address
func NewMonitor(device string, sinks ...string) *Monitor {
	m := &Monitor{
		device: device,
		sinks:  make(map[string]*SinkStatus, len(sinks)),
		timer:  stopwatch.Start(0),
	}
	for _, name := range sinks {
		m.sinks[name] = &SinkStatus{Name: name}
	}
	return m
}

// HandleStateChange records a change of the device connection
func (m *Monitor) HandleStateChange(status scale.ConnectionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connection = status
}

// HandlePoll records the result of a poll tick
func (m *Monitor) HandlePoll(poll stabilizer.Poll) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPoll = &poll
	m.polls++
}

// HandleEvent records a stable weight event
func (m *Monitor) HandleEvent(event scale.StableWeight) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEvent = &event
	m.events++
}

// HandleResult records the outcome of a sink delivery
func (m *Monitor) HandleResult(res sink.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sinks[res.Sink]
	if !ok {
		st = &SinkStatus{Name: res.Sink}
		m.sinks[res.Sink] = st
	}

	st.LastDelivery = res.TimeStamp
	if res.Err != nil {
		st.Failures++
		st.LastError = res.Err.Error()
		return
	}
	st.Deliveries++
	st.LastError = ""
}

// LastEvent returns the most recent stable weight event, if any
func (m *Monitor) LastEvent() (scale.StableWeight, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastEvent == nil {
		return scale.StableWeight{}, false
	}
	return *m.lastEvent, true
}

// Status returns a snapshot of the current state
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		Device:     m.device,
		Connection: m.connection.State.String(),
		Phase:      stabilizer.PhaseIdle.String(),
		Polls:      m.polls,
		Events:     m.events,
		Sinks:      make([]SinkStatus, 0, len(m.sinks)),
		Uptime:     m.timer.ElapsedTime().Seconds(),
	}
	if m.connection.Error != nil {
		status.LastError = m.connection.Error.Error()
	}

	if m.lastPoll != nil {
		status.Phase = m.lastPoll.Phase.String()
		status.StableCount = m.lastPoll.StableCount
		if m.lastPoll.Err == nil {
			status.LastSample = &SampleStatus{
				Weight:    m.lastPoll.Sample.Weight,
				Unit:      string(m.lastPoll.Sample.Unit),
				Outcome:   m.lastPoll.Outcome.String(),
				TimeStamp: m.lastPoll.Sample.TimeStamp,
			}
		} else if status.LastError == "" {
			status.LastError = m.lastPoll.Err.Error()
		}
	}

	if m.lastEvent != nil {
		payload := sink.NewPayload(*m.lastEvent)
		status.LastEvent = &payload
	}

	for _, st := range m.sinks {
		status.Sinks = append(status.Sinks, *st)
	}
	sort.Slice(status.Sinks, func(i, j int) bool {
		return status.Sinks[i].Name < status.Sinks[j].Name
	})

	return status
}
