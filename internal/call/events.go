package call

// Command is a user action dispatched to the engine.
type Command interface {
	command()
}

type (
	StartCall         struct{ Video bool }
	AcceptCall        struct{ Video bool }
	EndCall           struct{}
	RejectCall        struct{}
	ToggleAudio       struct{}
	ToggleVideo       struct{}
	ToggleScreenShare struct{}
)

func (StartCall) command()         {}
func (AcceptCall) command()        {}
func (EndCall) command()           {}
func (RejectCall) command()        {}
func (ToggleAudio) command()       {}
func (ToggleVideo) command()       {}
func (ToggleScreenShare) command() {}

// Event is emitted by the engine for the presentation layer.
type Event interface {
	event()
}

// StateChanged carries the new state snapshot.
type StateChanged struct{ State State }

// IncomingCall is raised when a remote offer waits for acceptCall.
type IncomingCall struct{ Video bool }

type CallEnded struct {
	Reason  EndReason
	Err     error
	Summary Summary
}

// CallRejected means the remote party declined our call.
type CallRejected struct{ Summary Summary }

// Notice reports a non-fatal failure; the session, if any, continues.
type Notice struct{ Err error }

func (StateChanged) event() {}
func (IncomingCall) event() {}
func (CallEnded) event()    {}
func (CallRejected) event() {}
func (Notice) event()       {}
