// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import "sync/atomic"

// Status represents the admission stream connection status.
type Status uint32

// Connection statuses.
const (
	StatusConnecting Status = iota
	StatusConnected
	StatusError
	StatusClosed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Rank sentinel values.
const (
	// RankProcessed means the queue has already processed this
	// participant, e.g. a rejoin after admission.
	RankProcessed = -1
)

// State is the observable queue position for one join. Rank and Total are
// meaningful only when Known is true; they are set and cleared together.
type State struct {
	Rank              int
	Total             int
	Known             bool
	Status            Status
	ReconnectAttempts int
}

// Admission phases. The one-shot admitted signal is driven by CAS
// transitions through these phases so repeated rank==1 updates cannot
// re-fire it.
type admissionPhase = uint32

const (
	phaseWaiting admissionPhase = iota
	phaseAdmitting
	phaseAdmitted
)

// phaseManager handles atomic admission phase transitions.
type phaseManager struct {
	phase uint32
}

func (pm *phaseManager) get() admissionPhase {
	return atomic.LoadUint32(&pm.phase)
}

// transition attempts to move from one phase to the next. Returns true if
// this call performed the transition.
func (pm *phaseManager) transition(from, to admissionPhase) bool {
	return atomic.CompareAndSwapUint32(&pm.phase, from, to)
}
