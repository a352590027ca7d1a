package runner

import (
	"fmt"
	"strings"

	"github.com/minicd/minicd/definition"
)

// outcome carries everything notification rendering needs about a single
// job state transition.
type outcome struct {
	state   definition.State
	project string
	job     string
	ref     definition.Ref
	commit  string

	// resolved is a friendly name for the commit (branch or tag), empty
	// when git could not produce one.
	resolved string

	// context is the job's stdout on success or the error text on
	// failure, empty for start notifications.
	context string
}

func (o outcome) subject() string {
	var prefix string
	switch o.state {
	case definition.StateSuccess:
		prefix = "Job finished successful"
	case definition.StateFailure:
		prefix = "Job failed"
	default:
		prefix = "Job processing started"
	}
	return fmt.Sprintf("%s: %s/%s", prefix, o.project, o.job)
}

func (o outcome) body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project:   %s\n", o.project)
	fmt.Fprintf(&b, "Job:       %s\n", o.job)
	fmt.Fprintf(&b, "Reference: %s\n", o.ref)
	fmt.Fprintf(&b, "Commit:    %s", o.commit)
	if o.resolved != "" {
		fmt.Fprintf(&b, " (%s)", o.resolved)
	}
	b.WriteString("\n")

	if c := strings.TrimRight(o.context, "\n"); c != "" {
		b.WriteString("\n")
		b.WriteString(c)
		b.WriteString("\n")
	}
	return b.String()
}
