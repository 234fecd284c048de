package tui

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
)

// pickItem implements list.Item for every picker in the menu.
type pickItem struct {
	title string
	desc  string
	value string
}

func (i pickItem) Title() string       { return i.title }
func (i pickItem) Description() string { return i.desc }
func (i pickItem) FilterValue() string { return i.title }

// pickItems implements fuzzy.Source.
type pickItems []pickItem

func (p pickItems) String(i int) string { return p[i].title + " " + p[i].desc }
func (p pickItems) Len() int            { return len(p) }

// Picker is a list with a fuzzy filter typed inline.
type Picker struct {
	list   list.Model
	items  pickItems
	filter textinput.Model
}

// NewPicker creates a picker over items.
func NewPicker(title string, items pickItems, width, height int) *Picker {
	delegate := list.NewDefaultDelegate()
	delegate.SetHeight(2)
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("205")).
		BorderForeground(lipgloss.Color("205"))

	l := list.New(nil, delegate, width, max(height, 5))
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("205")).
		Bold(true)

	f := textinput.New()
	f.Prompt = "filter: "
	f.Placeholder = "type to filter"
	f.Focus()

	p := &Picker{list: l, items: items, filter: f}
	p.updateList("")
	return p
}

// updateList shows the items matching filter, best match first.
func (p *Picker) updateList(filter string) {
	var listItems []list.Item
	if filter == "" {
		for _, item := range p.items {
			listItems = append(listItems, item)
		}
	} else {
		for _, match := range fuzzy.FindFrom(filter, p.items) {
			listItems = append(listItems, p.items[match.Index])
		}
	}
	p.list.SetItems(listItems)
	p.list.Select(0)
}

// Update routes navigation keys to the list and everything else to the
// filter.
func (p *Picker) Update(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	switch key.String() {
	case "up", "down", "pgup", "pgdown", "home", "end", "ctrl+p", "ctrl+n":
		var cmd tea.Cmd
		p.list, cmd = p.list.Update(remapKey(key))
		return cmd
	}
	before := p.filter.Value()
	var cmd tea.Cmd
	p.filter, cmd = p.filter.Update(msg)
	if p.filter.Value() != before {
		p.updateList(p.filter.Value())
	}
	return cmd
}

func remapKey(k tea.KeyMsg) tea.KeyMsg {
	switch k.String() {
	case "ctrl+p":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "ctrl+n":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return k
}

// View renders the filter above the list.
func (p *Picker) View() string {
	return p.filter.View() + "\n\n" + p.list.View()
}

// Selected returns the highlighted item.
func (p *Picker) Selected() (pickItem, bool) {
	item, ok := p.list.SelectedItem().(pickItem)
	return item, ok
}

// Len is the number of visible items.
func (p *Picker) Len() int {
	return len(p.list.Items())
}

// SetSize updates the picker dimensions
func (p *Picker) SetSize(width, height int) {
	p.list.SetSize(width, max(height, 5))
}

// maxPickerFiles bounds the file walk for the context picker.
const maxPickerFiles = 2000

// loadFiles lists regular files under base, skipping hidden and
// dependency directories, directories first then alphabetical.
func loadFiles(base string) (pickItems, error) {
	var items pickItems
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != base && (strings.HasPrefix(name, ".") || skipDir(name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		items = append(items, pickItem{title: rel, desc: filepath.ToSlash(filepath.Dir(rel)), value: rel})
		if len(items) >= maxPickerFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].title < items[j].title
	})
	return items, nil
}

func skipDir(name string) bool {
	switch name {
	case "node_modules", "vendor", "__pycache__", "dist", "build", "target":
		return true
	}
	return false
}
