package client

// Source tells who caused an editor change.
type Source int

const (
	// SourceUser is direct user input.
	SourceUser Source = iota
	// SourceAPI is a change applied programmatically, such as a remote
	// operation or a loaded snapshot.
	SourceAPI
)

type Change struct {
	Op     []byte
	Source Source
}

// Editor is the local editing widget. Document content and operations are
// opaque JSON produced and consumed by the widget itself.
type Editor interface {
	Disable()
	Enable()
	// SetContents replaces the whole document with a snapshot.
	SetContents(content []byte) error
	// UpdateContents applies one incremental operation.
	UpdateContents(op []byte) error
	Contents() ([]byte, error)
	Changes() <-chan Change
}
