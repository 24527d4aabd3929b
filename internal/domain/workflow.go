package domain

// DefaultWorkerURL is the worker-run endpoint used when a workflow does not
// carry its own invocation URL.
const DefaultWorkerURL = "https://api.mindstudio.ai/developer/v2/workers/run"

// WorkflowConfig binds a worker identity, its credential and its attachment
// capabilities. Immutable for the duration of a submission.
type WorkflowConfig struct {
	ID                string
	Name              string
	DisplayName       string
	WorkerID          string
	CredentialRef     string
	APIURL            string
	SupportsDocuments bool
	SupportsImages    bool
}

// Label returns the name shown to the user.
func (w WorkflowConfig) Label() string {
	if w.DisplayName != "" {
		return w.DisplayName
	}
	return w.Name
}

// EndpointURL returns the invocation endpoint, falling back to the default
// worker-run URL.
func (w WorkflowConfig) EndpointURL() string {
	if w.APIURL != "" {
		return w.APIURL
	}
	return DefaultWorkerURL
}

// Allows reports whether the workflow accepts attachments of the given category.
func (w WorkflowConfig) Allows(cat AttachmentCategory) bool {
	switch cat {
	case CategoryImage:
		return w.SupportsImages
	case CategoryDocument:
		return w.SupportsDocuments
	default:
		return false
	}
}
