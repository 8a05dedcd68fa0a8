// Package commands describes the slash commands a bot publishes in its menu.
package commands

// Command is one menu entry. Routing happens elsewhere; the registry only
// needs enough to build the menu and to resolve aliases.
type Command struct {
	Description string
	// OperatorOnly commands are published with a chat scope limited to the operator.
	OperatorOnly bool
	Hidden       bool
	Aliases      []string
}
