package workspace

// FocusState distinguishes "no focus decision has been made yet" from
// "there is deliberately no focused folder". The two states drive
// different behavior at the end of setup: only an undetermined focus
// may be claimed by the sole-folder rule.
type FocusState int

const (
	// FocusUndetermined means no focus decision has been made.
	FocusUndetermined FocusState = iota
	// FocusNone means focus was deliberately cleared.
	FocusNone
	// FocusFolder means a folder is focused.
	FocusFolder
)

// String returns a human-readable state name.
func (s FocusState) String() string {
	switch s {
	case FocusUndetermined:
		return "undetermined"
	case FocusNone:
		return "none"
	case FocusFolder:
		return "folder"
	default:
		return "invalid"
	}
}
