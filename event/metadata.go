package event

// Metadata carries per-event, out-of-band state: the finalizers awaiting the
// event's terminal status, an optional schema definition handle, and the
// identifier of the source that produced the event.
type Metadata struct {
	finalizers Finalizers
	schemaID   string
	sourceID   string
}

// NewMetadata creates empty metadata.
func NewMetadata() *Metadata {
	return &Metadata{}
}

// Finalizers returns the attached finalizer set.
func (m *Metadata) Finalizers() Finalizers {
	return m.finalizers
}

// AddFinalizer attaches a finalizer.
func (m *Metadata) AddFinalizer(f *Finalizer) {
	m.finalizers = append(m.finalizers, f)
}

// AddBatchNotifier attaches a new finalizer referencing the notifier.
func (m *Metadata) AddBatchNotifier(n *BatchNotifier) {
	m.AddFinalizer(NewFinalizer(n))
}

// TakeFinalizers removes and returns the finalizer set, leaving the metadata
// with none. Used by transforms that move finalizers to an output event.
func (m *Metadata) TakeFinalizers() Finalizers {
	fs := m.finalizers
	m.finalizers = nil
	return fs
}

// SourceID returns the identifier of the originating source component.
func (m *Metadata) SourceID() string {
	return m.sourceID
}

// SetSourceID records the originating source component.
func (m *Metadata) SetSourceID(id string) {
	m.sourceID = id
}

// SchemaID returns the schema definition handle, if any.
func (m *Metadata) SchemaID() string {
	return m.schemaID
}

// SetSchemaID records the schema definition handle.
func (m *Metadata) SetSchemaID(id string) {
	m.schemaID = id
}

// Merge folds other into m: finalizer sets are unioned and the source and
// schema handles are kept from m unless unset.
func (m *Metadata) Merge(other *Metadata) {
	if other == nil {
		return
	}
	m.finalizers = m.finalizers.Merge(other.finalizers)
	other.finalizers = nil
	if m.sourceID == "" {
		m.sourceID = other.sourceID
	}
	if m.schemaID == "" {
		m.schemaID = other.schemaID
	}
}

// Clone copies the metadata, cloning the finalizer set so the copy finalizes
// independently.
func (m *Metadata) Clone() *Metadata {
	return &Metadata{
		finalizers: m.finalizers.Clone(),
		schemaID:   m.schemaID,
		sourceID:   m.sourceID,
	}
}
