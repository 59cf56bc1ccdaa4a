package conversation

import "time"

// Observer receives session events. Calls are made from the session's
// goroutine, in order. Every run, including a resumed one, is bracketed by
// OnStart and OnEnd.
type Observer interface {
	OnStart(sessionID string)
	OnMessage(sessionID string, msg Message)
	OnTurn(sessionID, participant string, elapsed time.Duration, err error)
	OnEnd(snap Snapshot)
}

// ObserverFuncs implements Observer with optional callbacks.
type ObserverFuncs struct {
	Start   func(sessionID string)
	Message func(sessionID string, msg Message)
	Turn    func(sessionID, participant string, elapsed time.Duration, err error)
	End     func(snap Snapshot)
}

func (o ObserverFuncs) OnStart(sessionID string) {
	if o.Start != nil {
		o.Start(sessionID)
	}
}

func (o ObserverFuncs) OnMessage(sessionID string, msg Message) {
	if o.Message != nil {
		o.Message(sessionID, msg)
	}
}

func (o ObserverFuncs) OnTurn(sessionID, participant string, elapsed time.Duration, err error) {
	if o.Turn != nil {
		o.Turn(sessionID, participant, elapsed, err)
	}
}

func (o ObserverFuncs) OnEnd(snap Snapshot) {
	if o.End != nil {
		o.End(snap)
	}
}
