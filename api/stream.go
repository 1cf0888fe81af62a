package api

import "time"

// MsgType is a message type for streaming run events
type MsgType string

// Streaming message type constants
const (
	StartRunMsg     MsgType = "run_start"
	EpochEndMsg     MsgType = "epoch_end"
	StateCollectMsg MsgType = "state_collect"
	FinishRunMsg    MsgType = "run_finish"
	VerdictMsg      MsgType = "verdict"
)

// Header is the common header for all streaming run-event messages
type Header struct {
	RunUuid string  `json:"run_uuid"`
	MsgType MsgType `json:"msg_type"`
}

// StartRun message sent when a benchmark run begins
type StartRun struct {
	Header
	Optim       string `json:"optim"`
	WorldSize   int    `json:"world_size"`
	Epochs      int    `json:"epochs"`
	BatchSize   int    `json:"batch_size"`
	DataSize    int    `json:"data_size"`
	StartedTime string `json:"started_time"`
}

// EpochEnd message sent when an epoch completes on the leader rank
type EpochEnd struct {
	Header
	Epoch int     `json:"epoch"`
	Rate  float64 `json:"rate"`
	Cost  float64 `json:"cost"`
}

// StateCollect message sent after sharded optimizer state is
// consolidated onto the leader rank
type StateCollect struct {
	Header
	Epoch      int `json:"epoch"`
	StateElems int `json:"state_elems"`
}

// FinishRun message sent when a run completes or aborts
type FinishRun struct {
	Header
	Summary       *RunSummary `json:"summary"`
	ErrorMessage  *string     `json:"error_message"`
	InternalError bool        `json:"internal_error"`
}

// Verdict message sent with the regression-gate outcome
type Verdict struct {
	Header
	Pass   bool        `json:"pass"`
	Checks []GateCheck `json:"checks"`
}

// Helper function to create a header
func NewHeader(runUuid string, msgType MsgType) Header {
	return Header{
		RunUuid: runUuid,
		MsgType: msgType,
	}
}

// Helper functions to create specific streaming message types
func NewStartRun(runUuid, optim string, worldSize, epochs, batchSize, dataSize int) StartRun {
	return StartRun{
		Header:      NewHeader(runUuid, StartRunMsg),
		Optim:       optim,
		WorldSize:   worldSize,
		Epochs:      epochs,
		BatchSize:   batchSize,
		DataSize:    dataSize,
		StartedTime: time.Now().Format(time.RFC3339),
	}
}

func NewEpochEnd(runUuid string, epoch int, rate, cost float64) EpochEnd {
	return EpochEnd{
		Header: NewHeader(runUuid, EpochEndMsg),
		Epoch:  epoch,
		Rate:   rate,
		Cost:   cost,
	}
}

func NewStateCollect(runUuid string, epoch, stateElems int) StateCollect {
	return StateCollect{
		Header:     NewHeader(runUuid, StateCollectMsg),
		Epoch:      epoch,
		StateElems: stateElems,
	}
}

func NewFinishRun(runUuid string, summary *RunSummary, errorMessage *string, internalError bool) FinishRun {
	return FinishRun{
		Header:        NewHeader(runUuid, FinishRunMsg),
		Summary:       summary,
		ErrorMessage:  errorMessage,
		InternalError: internalError,
	}
}

func NewVerdict(runUuid string, pass bool, checks []GateCheck) Verdict {
	return Verdict{
		Header: NewHeader(runUuid, VerdictMsg),
		Pass:   pass,
		Checks: checks,
	}
}
