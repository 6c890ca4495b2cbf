package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette is the fixed emoji set offered by the composer, in display order.
var Palette = []string{
	"😀", "😂", "😍", "🥳", "😎", "🤔", "👍", "❤️",
	"🎉", "🔥", "👏", "✅", "🙏", "🤣", "😊", "🥰",
}

// ToggleGlyph marks the picker toggle in the composer hint.
const ToggleGlyph = "😀"

const pickerColumns = 8

// EmojiPicker is a small grid the user navigates with the arrow keys. The
// chat model owns key routing; the picker only tracks openness and cursor.
type EmojiPicker struct {
	styles Styles
	open   bool
	cursor int
}

// NewEmojiPicker creates a closed picker with the cursor on the first emoji.
func NewEmojiPicker(styles Styles) EmojiPicker {
	return EmojiPicker{styles: styles}
}

// Open reports whether the grid is showing.
func (p *EmojiPicker) Open() bool { return p.open }

// Toggle flips visibility. Opening resets the cursor to the first emoji.
func (p *EmojiPicker) Toggle() {
	if p.open {
		p.Hide()
		return
	}
	p.Show()
}

// Show opens the grid with the cursor on the first emoji.
func (p *EmojiPicker) Show() {
	p.open = true
	p.cursor = 0
}

// Hide closes the grid.
func (p *EmojiPicker) Hide() {
	p.open = false
}

// Move shifts the cursor by (dx, dy) cells, clamped at the grid edges.
func (p *EmojiPicker) Move(dx, dy int) {
	cols := pickerColumns
	rows := (len(Palette) + cols - 1) / cols

	col := p.cursor % cols
	row := p.cursor / cols

	col += dx
	if col < 0 {
		col = 0
	}
	if col > cols-1 {
		col = cols - 1
	}

	row += dy
	if row < 0 {
		row = 0
	}
	if row > rows-1 {
		row = rows - 1
	}

	p.cursor = row*cols + col
	if p.cursor > len(Palette)-1 {
		p.cursor = len(Palette) - 1
	}
}

// Selected returns the emoji under the cursor.
func (p *EmojiPicker) Selected() string {
	return Palette[p.cursor]
}

// View renders the grid; empty string while hidden.
func (p *EmojiPicker) View() string {
	if !p.open {
		return ""
	}

	var rows []string
	for start := 0; start < len(Palette); start += pickerColumns {
		end := start + pickerColumns
		if end > len(Palette) {
			end = len(Palette)
		}

		var cells []string
		for i := start; i < end; i++ {
			style := p.styles.PickerCell
			if i == p.cursor {
				style = p.styles.PickerCursor
			}
			cells = append(cells, style.Render(Palette[i]))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}

	return p.styles.PickerBox.Render(strings.Join(rows, "\n"))
}
