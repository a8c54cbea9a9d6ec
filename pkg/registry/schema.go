package registry

// Status is how far an activity's worker has come.
type Status string

const (
	StatusPlanned     Status = "planned"
	StatusImplemented Status = "implemented"
	StatusDeprecated  Status = "deprecated"
)

func (s Status) valid() bool {
	switch s {
	case StatusPlanned, StatusImplemented, StatusDeprecated:
		return true
	default:
		return false
	}
}

// ActivityRegistry is the catalogue of Zeebe task types the engine serves.
type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

// Activity describes one task type: the job variables it reads and writes,
// the BPMN error codes it may throw, and the job timeout and retry budget
// used when the worker has no entry in the config file.
type Activity struct {
	ID                   string                 `json:"id"`
	DisplayName          string                 `json:"displayName"`
	Description          string                 `json:"description"`
	Category             string                 `json:"category"`
	Version              string                 `json:"version"`
	TaskType             string                 `json:"taskType"`
	ImplementationStatus Status                 `json:"implementationStatus"`
	InputSchema          map[string]interface{} `json:"inputSchema"`
	OutputSchema         map[string]interface{} `json:"outputSchema"`
	ErrorCodes           []string               `json:"errorCodes"`
	Timeout              string                 `json:"timeout"`
	Retries              int                    `json:"retries"`
	Workflows            []string               `json:"workflows"`
	Tags                 []string               `json:"tags"`
}
