package protocol

// DefaultReadyToken is the literal line a worker prints once its model is loaded.
const DefaultReadyToken = "READY"

// Mode selects how requests are framed on the worker's stdin.
type Mode string

const (
	// ModeLine writes the bare payload; results are matched to the in-flight job by position.
	ModeLine Mode = "line"
	// ModeJSON writes a Request envelope and expects the worker to echo its id.
	ModeJSON Mode = "json"
)

// Valid reports whether m is a supported wire mode.
func (m Mode) Valid() bool {
	return m == ModeLine || m == ModeJSON
}

// Request is the id-tagged envelope written to the worker in ModeJSON.
type Request struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Result is one structured response line from the worker.
type Result struct {
	ID                  string   `json:"id,omitempty"`
	Text                *string  `json:"text,omitempty"`
	Error               string   `json:"error,omitempty"`
	Language            string   `json:"language,omitempty"`
	LanguageProbability *float64 `json:"language_probability,omitempty"`
}

// Failed reports whether the worker reported an error for this job.
func (r *Result) Failed() bool {
	return r.Error != ""
}

// Transcript returns the recognized text, or "" for error results.
func (r *Result) Transcript() string {
	if r.Text == nil {
		return ""
	}
	return *r.Text
}

// Kind classifies an inbound line.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindReady
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindResult:
		return "result"
	default:
		return "unrecognized"
	}
}

// Message is a classified inbound line.
type Message struct {
	Kind   Kind
	Result *Result // set for KindResult
	Raw    string  // trimmed line
	Err    error   // parse failure for KindUnrecognized
}
