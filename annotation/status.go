package annotation

// DisplayMeta is the presentation metadata for a status badge. StyleKey is
// an opaque styling hook for the host presentation layer; the controller
// attaches no meaning to it.
type DisplayMeta struct {
	Label    string
	Icon     string
	StyleKey string
}

var statusRegistry = map[Status]DisplayMeta{
	StatusPending:           {Label: "Pending", Icon: "⏳", StyleKey: "statusPending"},
	StatusProcessing:        {Label: "Processing", Icon: "⚙️", StyleKey: "statusProcessing"},
	StatusImplemented:       {Label: "Review", Icon: "👀", StyleKey: "statusImplemented"},
	StatusApproved:          {Label: "Approved", Icon: "✅", StyleKey: "statusApproved"},
	StatusCompleted:         {Label: "Done", Icon: "✅", StyleKey: "statusCompleted"},
	StatusRejected:          {Label: "Rejected", Icon: "❌", StyleKey: "statusRejected"},
	StatusRevisionRequested: {Label: "Revising", Icon: "🔄", StyleKey: "statusRevision"},
	StatusFailed:            {Label: "Failed", Icon: "💥", StyleKey: "statusFailed"},
	StatusInterrupted:       {Label: "Interrupted", Icon: "⏸️", StyleKey: "statusInterrupted"},
	StatusArchived:          {Label: "Archived", Icon: "📦", StyleKey: "statusArchived"},
}

// Meta returns the display metadata for a status. Unknown status codes fall
// back to the pending entry so a badge always renders.
func Meta(s Status) DisplayMeta {
	if m, ok := statusRegistry[s]; ok {
		return m
	}
	return statusRegistry[StatusPending]
}
