package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds all TUI key bindings.
type keyMap struct {
	Pause  key.Binding
	Resume key.Binding
	Stop   key.Binding
	Up     key.Binding
	Down   key.Binding
	PgUp   key.Binding
	PgDown key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Pause: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "pause"),
	),
	Resume: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "resume"),
	),
	Stop: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "stop"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "select up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "select down"),
	),
	PgUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("PgUp", "scroll details up"),
	),
	PgDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("PgDn", "scroll details down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// keyBarText renders the context-sensitive key hint string.
func keyBarText(ended, paused bool) string {
	if ended {
		return keyStyle.Render("↑↓") + keyDescStyle.Render(":select") + "  " +
			keyStyle.Render("PgUp/Dn") + keyDescStyle.Render(":scroll") + "  " +
			keyStyle.Render("q") + keyDescStyle.Render(":quit")
	}
	toggle := keyStyle.Render("p") + keyDescStyle.Render(":pause")
	if paused {
		toggle = keyStyle.Render("r") + keyDescStyle.Render(":resume")
	}
	return toggle + "  " +
		keyStyle.Render("s") + keyDescStyle.Render(":stop") + "  " +
		keyStyle.Render("↑↓") + keyDescStyle.Render(":select") + "  " +
		keyStyle.Render("PgUp/Dn") + keyDescStyle.Render(":scroll") + "  " +
		keyStyle.Render("q") + keyDescStyle.Render(":quit")
}
