package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/hari1098/snaptalks/internal/call"
)

// Controller is the part of the call engine the screen drives.
type Controller interface {
	StartCall(video bool)
	AcceptCall(video bool)
	EndCall()
	RejectCall()
	ToggleAudio()
	ToggleVideo()
	ToggleScreenShare()
	Events() <-chan call.Event
	State() call.State
}

// Presence reports the other seat of the room joining or leaving.
type Presence struct {
	Joined bool
}

// CallOptions describe the room the screen is attached to.
type CallOptions struct {
	RoomID      string
	RoomLink    string
	Video       bool
	PeerPresent bool
	Presence    <-chan Presence
}

type keyMap struct {
	Call   key.Binding
	Accept key.Binding
	Reject key.Binding
	End    key.Binding
	Mute   key.Binding
	Camera key.Binding
	Screen key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Call:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "call")),
	Accept: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "answer")),
	Reject: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "decline")),
	End:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "hang up")),
	Mute:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
	Camera: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "camera")),
	Screen: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "share screen")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type (
	eventMsg    struct{ ev call.Event }
	presenceMsg Presence
	streamDone  struct{}
)

// CallModel is the bubbletea model of the call screen.
type CallModel struct {
	ctrl Controller
	opts CallOptions

	state       call.State
	incoming    *call.IncomingCall
	peerPresent bool
	status      string
	err         error

	spinner  spinner.Model
	help     help.Model
	quitting bool
}

func NewCallModel(ctrl Controller, opts CallOptions) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &CallModel{
		ctrl:        ctrl,
		opts:        opts,
		state:       ctrl.State(),
		peerPresent: opts.PeerPresent,
		spinner:     s,
		help:        help.New(),
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), m.waitForPresence())
}

func (m *CallModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.ctrl.Events()
		if !ok {
			return streamDone{}
		}
		return eventMsg{ev}
	}
}

func (m *CallModel) waitForPresence() tea.Cmd {
	if m.opts.Presence == nil {
		return nil
	}
	return func() tea.Msg {
		p, ok := <-m.opts.Presence
		if !ok {
			return nil
		}
		return presenceMsg(p)
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.handleEvent(msg.ev)
		return m, m.waitForEvent()

	case presenceMsg:
		m.peerPresent = msg.Joined
		if msg.Joined {
			m.status = "Peer joined the room"
		} else {
			m.status = "Peer left the room"
		}
		return m, m.waitForPresence()

	case streamDone:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *CallModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	phase := m.state.Phase
	switch {
	case key.Matches(msg, keys.Quit):
		if phase != call.PhaseIdle && phase != call.PhaseEnded {
			m.ctrl.EndCall()
		}
		m.quitting = true
		return tea.Quit

	case key.Matches(msg, keys.Call) && canDial(phase):
		m.err = nil
		m.ctrl.StartCall(m.opts.Video)

	case key.Matches(msg, keys.Accept) && (canDial(phase) || phase == call.PhaseReceiving):
		m.err = nil
		m.ctrl.AcceptCall(m.opts.Video)

	case key.Matches(msg, keys.Reject) && phase == call.PhaseReceiving:
		m.ctrl.RejectCall()

	case key.Matches(msg, keys.End) && (phase == call.PhaseRinging || phase == call.PhaseConnected):
		m.ctrl.EndCall()

	case key.Matches(msg, keys.Mute) && phase != call.PhaseIdle:
		m.ctrl.ToggleAudio()

	case key.Matches(msg, keys.Camera) && phase != call.PhaseIdle:
		m.ctrl.ToggleVideo()

	case key.Matches(msg, keys.Screen):
		m.ctrl.ToggleScreenShare()
	}
	return nil
}

func canDial(p call.Phase) bool {
	return p == call.PhaseIdle || p == call.PhaseEnded
}

func (m *CallModel) handleEvent(ev call.Event) {
	switch ev := ev.(type) {
	case call.StateChanged:
		m.state = ev.State
		if ev.State.Phase != call.PhaseReceiving {
			m.incoming = nil
		}
		if ev.State.Phase == call.PhaseConnected {
			m.status = "Connected"
		}

	case call.IncomingCall:
		m.incoming = &ev
		m.status = ""

	case call.CallEnded:
		m.status = fmt.Sprintf("Call ended: %s", ev.Reason)
		m.err = ev.Err

	case call.CallRejected:
		m.status = "Your call was declined"

	case call.Notice:
		m.err = ev.Err
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(IconCall+" SnapTalks") + "\n")
	b.WriteString(m.viewRoom() + "\n\n")

	switch m.state.Phase {
	case call.PhaseIdle, call.PhaseEnded:
		b.WriteString(m.viewIdle())
	case call.PhaseRinging:
		b.WriteString(fmt.Sprintf("%s Calling...", m.spinner.View()))
	case call.PhaseReceiving:
		b.WriteString(m.viewIncoming())
	case call.PhaseConnected:
		b.WriteString(m.viewConnected())
	}

	if m.status != "" {
		b.WriteString("\n\n" + MutedStyle.Render(m.status))
	}
	if m.err != nil {
		b.WriteString("\n\n" + ErrorBoxStyle.Render(describeError(m.err)))
	}

	b.WriteString("\n\n" + m.help.ShortHelpView(m.bindings()))
	return ContainerStyle.Render(b.String())
}

func (m *CallModel) viewRoom() string {
	peer := MutedStyle.Render("waiting for peer")
	if m.peerPresent {
		peer = SuccessStyle.Render("peer in room")
	}
	lines := []string{
		fmt.Sprintf("%s Room:  %s", IconRoom, BoldStyle.Foreground(Primary).Render(m.opts.RoomID)),
		fmt.Sprintf("%s Peer:  %s", IconPeer, peer),
	}
	if m.opts.RoomLink != "" {
		lines = append(lines, fmt.Sprintf("%s Link:  %s", IconLink, MutedStyle.Render(m.opts.RoomLink)))
	}
	return RoomBoxStyle.Render(strings.Join(lines, "\n"))
}

func (m *CallModel) viewIdle() string {
	badge := IdleBadge.Render("IDLE")
	if m.state.Phase == call.PhaseEnded {
		badge = EndedBadge.Render("ENDED")
	}
	kind := "audio"
	if m.opts.Video {
		kind = "video"
	}
	return fmt.Sprintf("%s  Press c to start a %s call or a to join one", badge, kind)
}

func (m *CallModel) viewIncoming() string {
	kind := "voice"
	if m.incoming != nil && m.incoming.Video {
		kind = "video"
	}
	return IncomingBoxStyle.Render(fmt.Sprintf("%s Incoming %s call\n\n%s",
		IconCall, kind, MutedStyle.Render("a to answer, r to decline")))
}

func (m *CallModel) viewConnected() string {
	s := m.state
	var b strings.Builder
	b.WriteString(ConnectedBadge.Render("CONNECTED"))
	b.WriteString(MutedStyle.Render(fmt.Sprintf("  %s, %s", s.Role, s.LocalMediaKind)))
	b.WriteString("\n\n")

	mic := IconMic + " mic on"
	if s.AudioMuted {
		mic = WarningStyle.Render(IconMuted + " muted")
	}
	b.WriteString(mic)

	if s.LocalMediaKind == call.MediaAudioVideo {
		cam := IconVideo + " camera on"
		if s.VideoOff {
			cam = WarningStyle.Render(IconCamOff + " camera off")
		}
		b.WriteString("   " + cam)
	}
	if s.ScreenSharing {
		b.WriteString("   " + SuccessStyle.Render(IconScreen+" sharing screen"))
	}
	if s.ConnectionState != "" {
		b.WriteString("\n" + MutedStyle.Render("link: "+s.ConnectionState))
	}
	return b.String()
}

func (m *CallModel) bindings() []key.Binding {
	switch m.state.Phase {
	case call.PhaseRinging:
		return []key.Binding{keys.End, keys.Mute, keys.Quit}
	case call.PhaseReceiving:
		return []key.Binding{keys.Accept, keys.Reject, keys.Quit}
	case call.PhaseConnected:
		return []key.Binding{keys.Mute, keys.Camera, keys.Screen, keys.End, keys.Quit}
	default:
		return []key.Binding{keys.Call, keys.Accept, keys.Quit}
	}
}

// describeError turns engine errors into a line a user can act on.
func describeError(err error) string {
	switch {
	case errors.Is(err, call.ErrInsecureContext):
		return "Calls need a secure relay (wss:// or localhost)."
	case errors.Is(err, call.ErrMediaAccess):
		return "Could not open your microphone or camera."
	case errors.Is(err, call.ErrScreenShareUnavailable):
		return "Screen sharing is not available."
	case errors.Is(err, call.ErrConnectionFailure):
		return "The connection to your peer was lost."
	case errors.Is(err, call.ErrSignaling):
		return "Lost contact with the relay."
	}
	return err.Error()
}
