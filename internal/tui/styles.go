package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#7f57b4")
	colorAccent  = lipgloss.Color("#a7754e")
	colorText    = lipgloss.Color("#d7d9da")
	colorMuted   = lipgloss.Color("#9ba0bf")
	colorError   = lipgloss.Color("#c0616f")
	colorBorder  = lipgloss.Color("#273540")
	colorBg      = lipgloss.Color("#16161d")
	colorDelete  = lipgloss.Color("#c0616f")
	colorInsert  = lipgloss.Color("#3f866b")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			PaddingRight(1)

	tabActiveStyle = lipgloss.NewStyle().
			Foreground(colorBg).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(colorMuted).
				Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	separatorStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	normalStyle = lipgloss.NewStyle().
			Foreground(colorText)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	previewStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	deleteStyle = lipgloss.NewStyle().
			Foreground(colorDelete).
			Strikethrough(true)

	insertStyle = lipgloss.NewStyle().
			Foreground(colorInsert).
			Underline(true)
)
