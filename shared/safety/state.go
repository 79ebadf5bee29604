// Package safety implements the drone's safety-critical state machine: a
// pure transition function over (State, Event) plus the preempting safety
// conditions that can override normal command-plane flow at any time.
//
// The state machine itself holds no goroutines, timers, or I/O — it is a
// value type transition function, the way a rules engine is kept separate
// from the loop that drives it. Ownership, serialization, and the periodic
// check cadence belong to the caller (edge/internal/safetymonitor).
package safety

import "fmt"

// State is the closed set of drone lifecycle states.
type State byte

const (
	StateUnknown State = iota
	StateIdle
	StatePreflight
	StateArmed
	StateTakingOff
	StateInMission
	StateReturningHome
	StateLanding
	StateEmergency
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePreflight:
		return "Preflight"
	case StateArmed:
		return "Armed"
	case StateTakingOff:
		return "TakingOff"
	case StateInMission:
		return "InMission"
	case StateReturningHome:
		return "ReturningHome"
	case StateLanding:
		return "Landing"
	case StateEmergency:
		return "Emergency"
	default:
		return "Unknown"
	}
}

// Event is the closed set of safety-relevant transitions a drone can observe.
type Event byte

const (
	EventInitialized Event = iota
	EventPreflightComplete
	EventArmed
	EventTakeoffStarted
	EventTakeoffComplete
	EventMissionStarted
	EventMissionComplete
	EventRthTriggered
	EventRthComplete
	EventLandingStarted
	EventLanded
	EventEmergencyTriggered
	EventEmergencyCleared
	EventHeartbeatTimeout
	EventBatteryCritical
	EventGeofenceBreach
	EventCommandTimeout
)

func (e Event) String() string {
	switch e {
	case EventInitialized:
		return "Initialized"
	case EventPreflightComplete:
		return "PreflightComplete"
	case EventArmed:
		return "Armed"
	case EventTakeoffStarted:
		return "TakeoffStarted"
	case EventTakeoffComplete:
		return "TakeoffComplete"
	case EventMissionStarted:
		return "MissionStarted"
	case EventMissionComplete:
		return "MissionComplete"
	case EventRthTriggered:
		return "RthTriggered"
	case EventRthComplete:
		return "RthComplete"
	case EventLandingStarted:
		return "LandingStarted"
	case EventLanded:
		return "Landed"
	case EventEmergencyTriggered:
		return "EmergencyTriggered"
	case EventEmergencyCleared:
		return "EmergencyCleared"
	case EventHeartbeatTimeout:
		return "HeartbeatTimeout"
	case EventBatteryCritical:
		return "BatteryCritical"
	case EventGeofenceBreach:
		return "GeofenceBreach"
	case EventCommandTimeout:
		return "CommandTimeout"
	default:
		return fmt.Sprintf("Event(%d)", byte(e))
	}
}

// ResultKind classifies the outcome of processing one event.
type ResultKind byte

const (
	// ResultTransitioned means the normal transition table accepted the
	// event and the state changed accordingly.
	ResultTransitioned ResultKind = iota
	// ResultEmergencyStop means an EmergencyTriggered event (or a safety
	// condition observed while in an unrecoverable state) forced the state
	// to Emergency.
	ResultEmergencyStop
	// ResultEmergencyRth means a safety condition forced an automatic
	// return-to-home, bypassing the normal command plane.
	ResultEmergencyRth
	// ResultInvalid means the (state, event) pair has no transition; the
	// state is left unchanged.
	ResultInvalid
	// ResultNoop means a safety condition fired while the drone was already
	// in a state where it does not apply (e.g. HeartbeatTimeout while
	// already Idle) — success, no state change.
	ResultNoop
)

func (k ResultKind) String() string {
	switch k {
	case ResultTransitioned:
		return "Transitioned"
	case ResultEmergencyStop:
		return "EmergencyStop"
	case ResultEmergencyRth:
		return "EmergencyRth"
	case ResultInvalid:
		return "Invalid"
	case ResultNoop:
		return "Noop"
	default:
		return "Unknown"
	}
}

// TransitionResult is returned by ProcessEvent: the new state, what kind of
// outcome occurred, and — for Invalid — the (from, event) pair that was
// rejected, and — for EmergencyStop/EmergencyRth — the reason.
type TransitionResult struct {
	Kind  ResultKind
	From  State
	To    State
	Event Event
	// Reason explains an EmergencyStop/EmergencyRth outcome (e.g. which
	// safety condition triggered it). Empty for other kinds.
	Reason string
}

// normalTable encodes the §4.2 normal transition table. Indexed by
// [from][event]; a missing entry means the pair is Invalid.
var normalTable = map[State]map[Event]State{
	StateIdle: {
		EventPreflightComplete: StatePreflight,
	},
	StatePreflight: {
		EventArmed: StateArmed,
	},
	StateArmed: {
		EventTakeoffStarted: StateTakingOff,
		EventRthTriggered:   StateReturningHome,
	},
	StateTakingOff: {
		EventTakeoffComplete: StateIdle,
		EventMissionStarted:  StateInMission,
		EventRthTriggered:    StateReturningHome,
	},
	StateInMission: {
		EventMissionComplete: StateIdle,
		EventRthTriggered:    StateReturningHome,
	},
	StateReturningHome: {
		EventRthComplete:    StateLanding,
		EventLandingStarted: StateLanding,
	},
	StateLanding: {
		EventLanded: StateIdle,
	},
	StateEmergency: {
		EventEmergencyCleared: StateIdle,
	},
}

// safetyRthApplicable is the set of states from which a safety condition
// (HeartbeatTimeout/BatteryCritical/GeofenceBreach) forces a ReturningHome
// transition rather than being a no-op or an Emergency stop.
var safetyRthApplicable = map[State]bool{
	StateArmed:     true,
	StateTakingOff: true,
	StateInMission: true,
	StatePreflight: true,
}

// safetyNoopStates is the set of states in which a safety condition is
// already moot (already on the ground, already returning, or already in
// Emergency) and is therefore a success no-op.
var safetyNoopStates = map[State]bool{
	StateIdle:          true,
	StateLanding:       true,
	StateReturningHome: true,
	StateEmergency:     true,
}

func isSafetyEvent(e Event) bool {
	switch e {
	case EventHeartbeatTimeout, EventBatteryCritical, EventGeofenceBreach:
		return true
	default:
		return false
	}
}

// ProcessEvent applies event to the drone currently in state `from` and
// returns the resulting TransitionResult. Preempting events/conditions
// (EmergencyTriggered, and the safety-RTH rule for
// HeartbeatTimeout/BatteryCritical/GeofenceBreach) are evaluated before the
// normal transition table, in that fixed order, so a safety condition always
// wins over whatever the normal table would otherwise do.
func ProcessEvent(from State, event Event) TransitionResult {
	if event == EventEmergencyTriggered {
		return TransitionResult{Kind: ResultEmergencyStop, From: from, To: StateEmergency, Event: event, Reason: event.String()}
	}

	if isSafetyEvent(event) {
		switch {
		case safetyNoopStates[from]:
			return TransitionResult{Kind: ResultNoop, From: from, To: from, Event: event}
		case safetyRthApplicable[from]:
			return TransitionResult{Kind: ResultEmergencyRth, From: from, To: StateReturningHome, Event: event, Reason: event.String()}
		case from == StateUnknown:
			return TransitionResult{Kind: ResultEmergencyStop, From: from, To: StateEmergency, Event: event, Reason: event.String()}
		default:
			return TransitionResult{Kind: ResultNoop, From: from, To: from, Event: event}
		}
	}

	if to, ok := normalTable[from][event]; ok {
		return TransitionResult{Kind: ResultTransitioned, From: from, To: to, Event: event}
	}

	return TransitionResult{Kind: ResultInvalid, From: from, To: from, Event: event}
}
