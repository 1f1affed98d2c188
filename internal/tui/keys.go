package tui

import tea "github.com/charmbracelet/bubbletea"

func isKey(msg tea.KeyMsg, keys ...string) bool {
	for _, k := range keys {
		if msg.String() == k {
			return true
		}
	}

	return false
}

func isQuit(msg tea.KeyMsg) bool {
	return isKey(msg, "q", "ctrl+c")
}

func isBack(msg tea.KeyMsg) bool {
	return msg.Type == tea.KeyEsc || isKey(msg, "esc")
}

func isEnter(msg tea.KeyMsg) bool {
	return isKey(msg, "enter")
}

func isUp(msg tea.KeyMsg) bool {
	return isKey(msg, "up", "k")
}

func isDown(msg tea.KeyMsg) bool {
	return isKey(msg, "down", "j")
}

func isPrevFolder(msg tea.KeyMsg) bool {
	return isKey(msg, "left", "h", "shift+tab")
}

func isNextFolder(msg tea.KeyMsg) bool {
	return isKey(msg, "right", "l", "tab")
}

const helpText = "↑/↓ move  ←/→ folder  / search  s sort  f fav  v view  a collect  p preview  d diff  r refresh  q quit"
