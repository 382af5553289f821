// Package flow drives the Propose, Approve and Split protocols from the
// initiating party and handles received transactions as a responder.
//
// Every protocol run walks the same stages:
//
//	Gathering → Building → LocalVerify → Finalizing → Propagating → Done
//
// and ends in Rejected when its inputs cannot be resolved, the local
// verification fails, or the notary reports a conflict.
package flow

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a step of a protocol run.
type Stage string

const (
	StageGathering   Stage = "Gathering"
	StageBuilding    Stage = "Building"
	StageLocalVerify Stage = "LocalVerify"
	StageFinalizing  Stage = "Finalizing"
	StagePropagating Stage = "Propagating"
	StageDone        Stage = "Done"
	StageRejected    Stage = "Rejected"
)

// Protocol names a kind of run.
type Protocol string

const (
	ProtocolPropose Protocol = "Propose"
	ProtocolApprove Protocol = "Approve"
	ProtocolSplit   Protocol = "Split"
)

// Transition is one stage change of a run.
type Transition struct {
	Stage Stage
	At    time.Time
}

// Run is the record of one protocol run.
type Run struct {
	ID        uuid.UUID
	Protocol  Protocol
	Stage     Stage
	History   []Transition
	Attempts  int
	Reason    string
	TxID      string
	StartedAt time.Time
}

func newRun(p Protocol) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.New(),
		Protocol:  p,
		StartedAt: now,
	}
}

func (r *Run) enter(s Stage) {
	r.Stage = s
	r.History = append(r.History, Transition{Stage: s, At: time.Now()})
}

func (r *Run) reject(err error) {
	r.Reason = err.Error()
	r.enter(StageRejected)
}

// Stages returns the visited stages in order.
func (r *Run) Stages() []Stage {
	out := make([]Stage, len(r.History))
	for i, t := range r.History {
		out[i] = t.Stage
	}
	return out
}
