package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary    = lipgloss.Color("#34D399") // Mint
	Secondary  = lipgloss.Color("#818CF8") // Indigo
	Success    = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	Muted      = lipgloss.Color("#6B7280")
	Foreground = lipgloss.Color("#F9FAFB")
	Surface    = lipgloss.Color("#1F2937")
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)
)

// Phase badges, one per call phase.
var (
	badgeStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Padding(0, 1).
			Bold(true)

	IdleBadge      = badgeStyle.Background(Muted)
	RingingBadge   = badgeStyle.Background(Warning)
	ReceivingBadge = badgeStyle.Background(Secondary)
	ConnectedBadge = badgeStyle.Background(Success)
	EndedBadge     = badgeStyle.Background(Error)
)

// Box styles
var (
	RoomBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 2)

	IncomingBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.DoubleBorder()).
				BorderForeground(Secondary).
				Padding(1, 2)

	ErrorBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(Error).
			Padding(0, 1)
)

// Layout styles
var (
	ContainerStyle = lipgloss.NewStyle().
			Margin(1, 2)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(Surface).
			Padding(0, 2).
			MarginBottom(1)
)

var SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)

const (
	IconCall     = "📞"
	IconVideo    = "📹"
	IconMic      = "🎙️"
	IconMuted    = "🔇"
	IconCamOff   = "🚫"
	IconScreen   = "🖥️"
	IconRoom     = "🚪"
	IconLink     = "🔗"
	IconPeer     = "👤"
	IconSuccess  = "✅"
	IconError    = "❌"
	IconWarning  = "⚠️"
	IconInfo     = "ℹ️"
	IconHangup   = "📴"
	IconDuration = "⏱️"
)

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Printf("%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}
