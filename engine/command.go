package engine

import (
	"fmt"

	"github.com/hazyhaar/pagemark/engine/internal/relayout"
)

// CommandKind is an inbound host command.
type CommandKind uint8

const (
	CmdActivate CommandKind = iota
	CmdDeactivate
	CmdShowAll
	CmdHideAll
	CmdDrawOpen
	CmdDrawResolved
	CmdRerender

	numCommands
)

var commandNames = [numCommands]string{
	CmdActivate:     "activate",
	CmdDeactivate:   "deactivate",
	CmdShowAll:      "show_all",
	CmdHideAll:      "hide_all",
	CmdDrawOpen:     "draw_open",
	CmdDrawResolved: "draw_resolved",
	CmdRerender:     "rerender",
}

// CommandKinds lists every command in declaration order.
func CommandKinds() []CommandKind {
	out := make([]CommandKind, numCommands)
	for i := range out {
		out[i] = CommandKind(i)
	}
	return out
}

func (k CommandKind) String() string {
	if k < numCommands {
		return commandNames[k]
	}
	return fmt.Sprintf("CommandKind(%d)", uint8(k))
}

func (k CommandKind) MarshalText() ([]byte, error) {
	if k >= numCommands {
		return nil, fmt.Errorf("engine: unknown command kind %d", uint8(k))
	}
	return []byte(commandNames[k]), nil
}

func (k *CommandKind) UnmarshalText(b []byte) error {
	for i, name := range commandNames {
		if name == string(b) {
			*k = CommandKind(i)
			return nil
		}
	}
	return fmt.Errorf("engine: unknown command %q", b)
}

// Command is one inbound command. On is read by draw_open and
// draw_resolved only.
type Command struct {
	Kind CommandKind `json:"kind"`
	On   bool        `json:"on,omitempty"`
}

// commandTable maps every kind to its handler. Each handler sets state
// rather than flipping it, so repeated delivery has no further effect.
func (e *Engine) commandTable() [numCommands]func(Command) error {
	return [numCommands]func(Command) error{
		CmdActivate: func(Command) error {
			e.selection.Activate()
			return nil
		},
		CmdDeactivate: func(Command) error {
			e.selection.Deactivate()
			e.discardPending()
			return nil
		},
		CmdShowAll: func(Command) error {
			e.renderer.SetAllVisible(true)
			return nil
		},
		CmdHideAll: func(Command) error {
			e.renderer.SetAllVisible(false)
			return nil
		},
		CmdDrawOpen: func(c Command) error {
			e.renderer.SetOpenVisible(c.On)
			return nil
		},
		CmdDrawResolved: func(c Command) error {
			e.renderer.SetResolvedVisible(c.On)
			return nil
		},
		CmdRerender: func(Command) error {
			e.relayout.Trigger(relayout.Command)
			e.relayout.Flush()
			return nil
		},
	}
}

// Execute runs cmd.
func (e *Engine) Execute(cmd Command) error {
	if cmd.Kind >= numCommands {
		return fmt.Errorf("engine: unknown command kind %d", uint8(cmd.Kind))
	}
	e.logger.Debug("engine: command", "kind", cmd.Kind, "on", cmd.On)
	return e.commands[cmd.Kind](cmd)
}
