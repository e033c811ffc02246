// Package ui implements an interactive terminal view of an export or import run using bubbletea's Elm architecture.
//
// The TUI walks through three views:
//  1. [ConfirmView] : Show what is about to run and wait for y/n
//  2. [RunView] : Spinner, progress bar and a rolling log of finished users
//  3. [ResultView] : Browse per-user outcomes once the run finishes
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the engine, providing non-blocking status reporting while users are processed.
//
// Keyboard navigation uses vim-style bindings (j/k, y/n, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
