package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	def, err := Parse([]byte(`
name: myproj
jobs:
  build:
    on: {branch: "^main$"}
    await: true
    run: |
      make && make test
    notify:
      - on: [failure, success]
        to:
          - {type: email, address: "{{ ops.email }}"}
`))
	require.NoError(t, err)

	assert.Equal(t, "myproj", def.Name)
	require.Equal(t, 1, def.Jobs.Len())

	job, ok := def.Jobs.Get("build")
	require.True(t, ok)

	require.NotNil(t, job.On)
	assert.Equal(t, RefBranch, job.On.Kind)
	assert.Equal(t, "^main$", job.On.Name)
	assert.True(t, job.Await)
	assert.Equal(t, "make && make test\n", job.Run)

	require.Len(t, job.Notify, 1)
	assert.Equal(t, []Event{EventFailure, EventSuccess}, job.Notify[0].On)
	require.Len(t, job.Notify[0].To, 1)
	assert.Equal(t, TargetEmail, job.Notify[0].To[0].Type)
	assert.Equal(t, "{{ ops.email }}", job.Notify[0].To[0].Address)
}

func TestParsePreservesJobOrder(t *testing.T) {
	def, err := Parse([]byte(`
name: p
jobs:
  zeta: {run: "true"}
  alpha: {run: "true"}
  mid: {run: "true"}
  beta: {run: "true"}
`))
	require.NoError(t, err)

	var order []string
	err = def.Jobs.Range(func(id string, job *Job) error {
		order = append(order, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid", "beta"}, order)
}

func TestParseShellForms(t *testing.T) {
	def, err := Parse([]byte(`
name: p
jobs:
  one:
    shell: python3
    run: "print(1)"
  two:
    shell: [bash, -e]
    run: "true"
  three:
    run: "true"
`))
	require.NoError(t, err)

	one, _ := def.Jobs.Get("one")
	require.NotNil(t, one.Shell)
	assert.Equal(t, "python3", one.Shell.Runner)
	assert.Empty(t, one.Shell.Args)

	two, _ := def.Jobs.Get("two")
	require.NotNil(t, two.Shell)
	assert.Equal(t, "bash", two.Shell.Runner)
	assert.Equal(t, []string{"-e"}, two.Shell.Args)

	three, _ := def.Jobs.Get("three")
	assert.Nil(t, three.Shell)
}

func TestParseToleratesUnknownFields(t *testing.T) {
	def, err := Parse([]byte(`
name: p
description: not part of the schema
jobs:
  build:
    run: "true"
    timeout: 30
`))
	require.NoError(t, err)
	assert.Equal(t, "p", def.Name)
	assert.Equal(t, 1, def.Jobs.Len())
}

func TestParseWebhookTarget(t *testing.T) {
	def, err := Parse([]byte(`
name: p
jobs:
  deploy:
    run: "true"
    notify:
      - on: [finish]
        to:
          - type: webhook
            url: "https://h/{{svc.tok}}"
            method: POST
            headers:
              Authorization: "Bearer {{svc.tok}}"
`))
	require.NoError(t, err)

	job, _ := def.Jobs.Get("deploy")
	require.Len(t, job.Notify, 1)
	target := job.Notify[0].To[0]
	assert.Equal(t, TargetWebhook, target.Type)
	assert.Equal(t, "https://h/{{svc.tok}}", target.URL)
	assert.Equal(t, "POST", target.Method)
	assert.Equal(t, "Bearer {{svc.tok}}", target.Headers["Authorization"])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "missing name", doc: "jobs:\n  a: {run: x}\n"},
		{name: "missing jobs", doc: "name: p\n"},
		{name: "missing run", doc: "name: p\njobs:\n  a: {await: true}\n"},
		{name: "jobs not a mapping", doc: "name: p\njobs:\n  - a\n"},
		{name: "duplicate job id", doc: "name: p\njobs:\n  a: {run: x}\n  a: {run: y}\n"},
		{name: "empty shell list", doc: "name: p\njobs:\n  a: {run: x, shell: []}\n"},
		{name: "unknown target type", doc: "name: p\njobs:\n  a:\n    run: x\n    notify:\n      - on: [all]\n        to: [{type: carrier-pigeon, address: coop}]\n"},
		{name: "email without address", doc: "name: p\njobs:\n  a:\n    run: x\n    notify:\n      - on: [all]\n        to: [{type: email}]\n"},
		{name: "webhook without url", doc: "name: p\njobs:\n  a:\n    run: x\n    notify:\n      - on: [all]\n        to: [{type: webhook}]\n"},
		{name: "unknown event", doc: "name: p\njobs:\n  a:\n    run: x\n    notify:\n      - on: [sometimes]\n        to: [{type: email, address: a@x}]\n"},
		{name: "unknown ref kind", doc: "name: p\njobs:\n  a: {run: x, on: {remote: origin}}\n"},
		{name: "ref filter with two keys", doc: "name: p\njobs:\n  a: {run: x, on: {branch: b, tag: t}}\n"},
		{name: "ref filter scalar", doc: "name: p\njobs:\n  a: {run: x, on: main}\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestNotifyFor(t *testing.T) {
	def, err := Parse([]byte(`
name: p
jobs:
  bare:
    run: "true"
  wired:
    run: "true"
    notify:
      - on: [success]
        to: [{type: email, address: ok@x}]
      - on: [failure]
        to: [{type: email, address: bad@x}]
      - on: [all]
        to: [{type: email, address: any@x}]
      - to: [{type: email, address: never@x}]
`))
	require.NoError(t, err)

	bare, _ := def.Jobs.Get("bare")
	got, ok := bare.NotifyFor(StateSuccess)
	assert.False(t, ok)
	assert.Nil(t, got)

	wired, _ := def.Jobs.Get("wired")

	addresses := func(notifies []Notify) []string {
		var out []string
		for _, n := range notifies {
			for _, target := range n.To {
				out = append(out, target.Address)
			}
		}
		return out
	}

	got, ok = wired.NotifyFor(StateSuccess)
	require.True(t, ok)
	assert.Equal(t, []string{"ok@x", "any@x"}, addresses(got))

	got, ok = wired.NotifyFor(StateFailure)
	require.True(t, ok)
	assert.Equal(t, []string{"bad@x", "any@x"}, addresses(got))

	got, ok = wired.NotifyFor(StateStart)
	require.True(t, ok)
	assert.Equal(t, []string{"any@x"}, addresses(got))
}

func TestNotifyForDistinguishesEmptyMatch(t *testing.T) {
	def, err := Parse([]byte(`
name: p
jobs:
  a:
    run: "true"
    notify:
      - on: [start]
        to: [{type: email, address: a@x}]
`))
	require.NoError(t, err)

	job, _ := def.Jobs.Get("a")
	got, ok := job.NotifyFor(StateSuccess)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestEventMatches(t *testing.T) {
	tests := []struct {
		event Event
		state State
		want  bool
	}{
		{EventStart, StateStart, true},
		{EventStart, StateSuccess, false},
		{EventStart, StateFailure, false},
		{EventSuccess, StateStart, false},
		{EventSuccess, StateSuccess, true},
		{EventSuccess, StateFailure, false},
		{EventFailure, StateStart, false},
		{EventFailure, StateSuccess, false},
		{EventFailure, StateFailure, true},
		{EventFinish, StateStart, false},
		{EventFinish, StateSuccess, true},
		{EventFinish, StateFailure, true},
		{EventAll, StateStart, true},
		{EventAll, StateSuccess, true},
		{EventAll, StateFailure, true},
	}

	for _, tc := range tests {
		if got := tc.event.Matches(tc.state); got != tc.want {
			t.Errorf("%s.Matches(%s) = %v, want %v", tc.event, tc.state, got, tc.want)
		}
	}
}
