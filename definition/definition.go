// Package definition models the .minicd manifest: the YAML file at the root
// of a repository that declares the project's jobs, their reference filters
// and their notification targets.
package definition

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FileName is the manifest's path relative to the repository root.
const FileName = ".minicd"

// Definition is a parsed manifest.
type Definition struct {
	Name string
	Jobs *Jobs
}

// Parse deserializes manifest bytes. Unknown fields are tolerated; a missing
// project name, jobs mapping, or job run script is an error.
func Parse(b []byte) (*Definition, error) {
	var raw struct {
		Name *string `yaml:"name"`
		Jobs *Jobs   `yaml:"jobs"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}
	if raw.Name == nil {
		return nil, errors.New("definition is missing a project name")
	}
	if raw.Jobs == nil {
		return nil, errors.New("definition is missing a jobs mapping")
	}
	return &Definition{Name: *raw.Name, Jobs: raw.Jobs}, nil
}

// Job is one entry of the manifest's jobs mapping.
type Job struct {
	On     *Ref
	Notify []Notify
	Shell  *ShellLine
	Await  bool
	Run    string
}

func (j *Job) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		On     *Ref       `yaml:"on"`
		Notify []Notify   `yaml:"notify"`
		Shell  *ShellLine `yaml:"shell"`
		Await  bool       `yaml:"await"`
		Run    *string    `yaml:"run"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.Run == nil {
		return fmt.Errorf("line %d: job is missing a run script", n.Line)
	}

	*j = Job{
		On:     raw.On,
		Notify: raw.Notify,
		Shell:  raw.Shell,
		Await:  raw.Await,
		Run:    *raw.Run,
	}
	return nil
}

// NotifyFor returns the notify entries whose events cover state. The bool
// distinguishes a job with no notify list (false) from one whose entries
// simply do not match (true with an empty slice).
func (j *Job) NotifyFor(state State) ([]Notify, bool) {
	if j.Notify == nil {
		return nil, false
	}
	matched := []Notify{}
	for _, n := range j.Notify {
		for _, e := range n.On {
			if e.Matches(state) {
				matched = append(matched, n)
				break
			}
		}
	}
	return matched, true
}

// Jobs holds the manifest's job mapping in declaration order, which is also
// the dispatch order of the pipeline.
type Jobs struct {
	ids  []string
	jobs map[string]*Job
}

func (j *Jobs) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: jobs must be a mapping", n.Line)
	}

	j.ids = make([]string, 0, len(n.Content)/2)
	j.jobs = make(map[string]*Job, len(n.Content)/2)

	for i := 0; i < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]

		var id string
		if err := keyNode.Decode(&id); err != nil {
			return err
		}
		if _, exists := j.jobs[id]; exists {
			return fmt.Errorf("line %d: duplicate job id %q", keyNode.Line, id)
		}

		job := new(Job)
		if err := valNode.Decode(job); err != nil {
			return fmt.Errorf("job %q: %w", id, err)
		}

		j.ids = append(j.ids, id)
		j.jobs[id] = job
	}
	return nil
}

func (j *Jobs) Len() int {
	return len(j.ids)
}

func (j *Jobs) Get(id string) (*Job, bool) {
	job, ok := j.jobs[id]
	return job, ok
}

// Range calls f for every job in declaration order, stopping at the first
// error.
func (j *Jobs) Range(f func(id string, job *Job) error) error {
	for _, id := range j.ids {
		if err := f(id, j.jobs[id]); err != nil {
			return err
		}
	}
	return nil
}

// ShellLine is the manifest's shell field: either a single string naming
// the script runner, or a list whose head is the runner and whose tail are
// runner arguments.
type ShellLine struct {
	Runner string
	Args   []string
}

func (s *ShellLine) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var runner string
		if err := n.Decode(&runner); err != nil {
			return err
		}
		*s = ShellLine{Runner: runner}
		return nil

	case yaml.SequenceNode:
		var parts []string
		if err := n.Decode(&parts); err != nil {
			return err
		}
		if len(parts) == 0 {
			return fmt.Errorf("line %d: shell list must not be empty", n.Line)
		}
		*s = ShellLine{Runner: parts[0], Args: parts[1:]}
		return nil
	}
	return fmt.Errorf("line %d: shell must be a string or a list of strings", n.Line)
}

// Notify is one notification declaration: targets plus the events that
// trigger them. An absent event list triggers on nothing; firing must be
// opted into explicitly.
type Notify struct {
	To []Target `yaml:"to"`
	On []Event  `yaml:"on"`
}

// Target types.
const (
	TargetEmail   = "email"
	TargetWebhook = "webhook"
)

// Target is a notification destination, discriminated by Type.
type Target struct {
	Type string `yaml:"type"`

	// email
	Address string `yaml:"address"`

	// webhook
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

func (t *Target) UnmarshalYAML(n *yaml.Node) error {
	type raw Target
	if err := n.Decode((*raw)(t)); err != nil {
		return err
	}

	switch t.Type {
	case TargetEmail:
		if t.Address == "" {
			return fmt.Errorf("line %d: email target requires an address", n.Line)
		}
	case TargetWebhook:
		if t.URL == "" {
			return fmt.Errorf("line %d: webhook target requires a url", n.Line)
		}
	default:
		return fmt.Errorf("line %d: unknown notify target type %q", n.Line, t.Type)
	}
	return nil
}

// State is the phase of a job run that notifications react to.
type State int

const (
	StateStart State = iota
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	}
	return "start"
}

// Event is a trigger named in a notify entry's event list.
type Event string

const (
	EventStart   Event = "start"
	EventSuccess Event = "success"
	EventFailure Event = "failure"
	EventFinish  Event = "finish"
	EventAll     Event = "all"
)

func (e *Event) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	switch Event(s) {
	case EventStart, EventSuccess, EventFailure, EventFinish, EventAll:
		*e = Event(s)
		return nil
	}
	return fmt.Errorf("line %d: unknown notify event %q", n.Line, s)
}

// Matches reports whether the event covers state. finish covers success and
// failure both; all covers everything.
func (e Event) Matches(s State) bool {
	switch e {
	case EventAll:
		return true
	case EventStart:
		return s == StateStart
	case EventSuccess:
		return s == StateSuccess
	case EventFailure:
		return s == StateFailure
	case EventFinish:
		return s == StateSuccess || s == StateFailure
	}
	return false
}
