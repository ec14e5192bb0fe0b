package app

// CycleFocusForward moves focus to the next widget, wrapping around.
func (m *AppModel) CycleFocusForward() {
	m.cycleFocus(1)
}

// CycleFocusBackward moves focus to the previous widget, wrapping around.
func (m *AppModel) CycleFocusBackward() {
	m.cycleFocus(-1)
}

func (m *AppModel) cycleFocus(step int) {
	n := len(m.widgetOrder)
	if n == 0 {
		return
	}
	idx := m.focusedIndex()
	idx = (idx + step + n) % n
	m.focusedWidget = m.widgetOrder[idx]
	// An expanded view follows focus.
	if m.expandedWidget != "" {
		m.expandedWidget = m.focusedWidget
	}
}

// FocusWidget sets focus to id. Unknown ids are ignored.
func (m *AppModel) FocusWidget(id string) {
	if _, ok := m.widgets[id]; ok {
		m.focusedWidget = id
	}
}

// ToggleExpand switches the focused widget between its slot and fullscreen.
func (m *AppModel) ToggleExpand() {
	if m.focusedWidget == "" {
		return
	}
	if m.expandedWidget == m.focusedWidget {
		m.expandedWidget = ""
	} else {
		m.expandedWidget = m.focusedWidget
	}
}

func (m *AppModel) focusedIndex() int {
	for i, id := range m.widgetOrder {
		if id == m.focusedWidget {
			return i
		}
	}
	return 0
}
