package report

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/shardbench/harness/api"
)

// NewNats creates a reporter that streams run events to the given
// NATS subject.
func NewNats(nc *nats.Conn, runUuid string, subject string) *natsReporter {
	return &natsReporter{
		nc:      nc,
		subject: subject,
		runUuid: runUuid,
	}
}

type natsReporter struct {
	nc      *nats.Conn
	subject string
	runUuid string
}

func (s *natsReporter) send(msg interface{}) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal message: %v", err)
		return
	}

	if err := s.nc.Publish(s.subject, b); err != nil {
		log.Printf("failed to publish message to NATS: %v", err)
	}
}

func (s *natsReporter) StartRun(optim string, worldSize, epochs, batchSize, dataSize int) {
	s.send(api.NewStartRun(s.runUuid, optim, worldSize, epochs, batchSize, dataSize))
}

func (s *natsReporter) EpochEnd(epoch int, rate, cost float64) {
	s.send(api.NewEpochEnd(s.runUuid, epoch, rate, cost))
}

func (s *natsReporter) StateCollected(epoch, stateElems int) {
	s.send(api.NewStateCollect(s.runUuid, epoch, stateElems))
}

func (s *natsReporter) FinishRun(summary *api.RunSummary) {
	s.send(api.NewFinishRun(s.runUuid, summary, nil, false))
}

func (s *natsReporter) InternalError(msg string) {
	s.send(api.NewFinishRun(s.runUuid, nil, &msg, true))
}

func (s *natsReporter) Verdict(pass bool, checks []api.GateCheck) {
	s.send(api.NewVerdict(s.runUuid, pass, checks))
}
