package cdpdriver

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

type keyDef struct {
	key  string
	code string
	vk   int64
	text string
}

var namedKeys = map[string]keyDef{
	"Enter":      {"Enter", "Enter", 13, "\r"},
	"Tab":        {"Tab", "Tab", 9, ""},
	"Escape":     {"Escape", "Escape", 27, ""},
	"Backspace":  {"Backspace", "Backspace", 8, ""},
	"Delete":     {"Delete", "Delete", 46, ""},
	"Space":      {" ", "Space", 32, " "},
	"Home":       {"Home", "Home", 36, ""},
	"End":        {"End", "End", 35, ""},
	"ArrowLeft":  {"ArrowLeft", "ArrowLeft", 37, ""},
	"ArrowUp":    {"ArrowUp", "ArrowUp", 38, ""},
	"ArrowRight": {"ArrowRight", "ArrowRight", 39, ""},
	"ArrowDown":  {"ArrowDown", "ArrowDown", 40, ""},
}

var modifierKeys = map[string]input.Modifier{
	"Control":       input.ModifierCtrl,
	"ControlOrMeta": input.ModifierCtrl,
	"Alt":           input.ModifierAlt,
	"Shift":         input.ModifierShift,
	"Meta":          input.ModifierMeta,
}

// Editing chords need an explicit command; synthetic key events do not
// trigger the browser's own shortcuts.
var editCommands = map[string]string{
	"a": "selectAll",
	"c": "copy",
	"v": "paste",
	"x": "cut",
}

// keyEvents turns a chord such as "Control+A" or "ArrowRight" into the
// keyDown and keyUp events CDP expects.
func keyEvents(chord string) ([]chromedp.Action, error) {
	parts := strings.Split(chord, "+")
	name := parts[len(parts)-1]
	if name == "" {
		// "Control++" presses the plus key.
		name = "+"
		parts = parts[:len(parts)-1]
	}

	var mods input.Modifier
	for _, m := range parts[:len(parts)-1] {
		bit, ok := modifierKeys[m]
		if !ok {
			return nil, fmt.Errorf("unknown modifier %q in key %q", m, chord)
		}
		mods |= bit
	}

	def, ok := namedKeys[name]
	if !ok {
		if utf8.RuneCountInString(name) != 1 {
			return nil, fmt.Errorf("unknown key %q", chord)
		}
		def = charKey(name)
	}

	down := input.DispatchKeyEvent(input.KeyRawDown).
		WithKey(def.key).
		WithCode(def.code).
		WithWindowsVirtualKeyCode(def.vk).
		WithNativeVirtualKeyCode(def.vk).
		WithModifiers(mods)
	shortcut := mods&(input.ModifierCtrl|input.ModifierMeta) != 0
	if shortcut {
		if cmd, ok := editCommands[strings.ToLower(def.key)]; ok {
			down = down.WithCommands([]string{cmd})
		}
	}

	actions := []chromedp.Action{down}
	if def.text != "" && !shortcut {
		actions = append(actions, input.DispatchKeyEvent(input.KeyChar).
			WithKey(def.key).
			WithText(def.text).
			WithUnmodifiedText(def.text).
			WithModifiers(mods))
	}
	actions = append(actions, input.DispatchKeyEvent(input.KeyUp).
		WithKey(def.key).
		WithCode(def.code).
		WithWindowsVirtualKeyCode(def.vk).
		WithNativeVirtualKeyCode(def.vk).
		WithModifiers(mods))
	return actions, nil
}

func charKey(s string) keyDef {
	r, _ := utf8.DecodeRuneInString(s)
	def := keyDef{key: s, text: s}
	switch {
	case r >= 'a' && r <= 'z':
		def.code = "Key" + strings.ToUpper(s)
		def.vk = int64(r - 'a' + 'A')
	case r >= 'A' && r <= 'Z':
		def.code = "Key" + s
		def.vk = int64(r)
	case r >= '0' && r <= '9':
		def.code = "Digit" + s
		def.vk = int64(r)
	}
	return def
}
