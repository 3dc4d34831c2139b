package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePipeline = `
name: library-ci
on:
  push:
    refs: ["refs/heads/main"]
  pull_request: {}
jobs:
  tests:
    required: true
    timeout: 10m
    steps:
      - name: unit tests
        run: make test
  lint:
    required: true
    steps:
      - run: make lint
        continue_on_error: true
  build:
    required: true
    depends_on: [tests, lint]
    steps:
      - name: release build
        run: make build
        cache_key: "build-{hash:Cargo.lock}"
        cache_path: target
`

func TestParsePipeline(t *testing.T) {
	p, err := ParsePipeline([]byte(samplePipeline))
	require.NoError(t, err)

	assert.Equal(t, "library-ci", p.Name)
	require.Len(t, p.Jobs, 3)

	// Declaration order is preserved from the YAML mapping
	assert.Equal(t, "tests", p.Jobs[0].Name)
	assert.Equal(t, "lint", p.Jobs[1].Name)
	assert.Equal(t, "build", p.Jobs[2].Name)

	tests := p.Jobs[0]
	assert.True(t, tests.Required)
	assert.Equal(t, Duration(10*time.Minute), tests.Timeout)
	require.Len(t, tests.Steps, 1)
	assert.Equal(t, "unit tests", tests.Steps[0].Name)

	lint := p.Jobs[1]
	assert.True(t, lint.Steps[0].ContinueOnError)

	build := p.Jobs[2]
	assert.Equal(t, []string{"tests", "lint"}, build.DependsOn)
	assert.Equal(t, "build-{hash:Cargo.lock}", build.Steps[0].CacheKey)
	assert.Equal(t, "target", build.Steps[0].CachePath)
}

func TestLoadPipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yml")
	require.NoError(t, os.WriteFile(path, []byte(samplePipeline), 0644))

	p, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.Equal(t, "library-ci", p.Name)

	_, err = LoadPipeline(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestTriggerMatches(t *testing.T) {
	p, err := ParsePipeline([]byte(samplePipeline))
	require.NoError(t, err)

	assert.True(t, p.On.Matches(TriggerEvent{Kind: EventPush, Ref: "refs/heads/main"}))
	assert.False(t, p.On.Matches(TriggerEvent{Kind: EventPush, Ref: "refs/heads/feature"}))

	// pull_request declares no ref filter, so every ref qualifies
	assert.True(t, p.On.Matches(TriggerEvent{Kind: EventPullRequest, Ref: "refs/heads/feature"}))
}

func TestTriggerNilMatchesEverything(t *testing.T) {
	var trigger *Trigger
	assert.True(t, trigger.Matches(TriggerEvent{Kind: EventPush, Ref: "anything"}))
}

func TestTriggerGlobRefs(t *testing.T) {
	trigger := &Trigger{Push: &RefFilter{Refs: []string{"refs/heads/release-*"}}}
	assert.True(t, trigger.Matches(TriggerEvent{Kind: EventPush, Ref: "refs/heads/release-1.2"}))
	assert.False(t, trigger.Matches(TriggerEvent{Kind: EventPush, Ref: "refs/heads/main"}))
	assert.False(t, trigger.Matches(TriggerEvent{Kind: EventPullRequest, Ref: "refs/heads/release-1.2"}))
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]string{
		"no jobs": `
name: empty
jobs: {}
`,
		"no steps": `
jobs:
  tests: {required: true}
`,
		"empty command": `
jobs:
  tests:
    steps:
      - name: broken
        run: ""
`,
		"cache key without path": `
jobs:
  tests:
    steps:
      - run: make test
        cache_key: "k"
`,
		"unknown dependency": `
jobs:
  build:
    depends_on: [tests]
    steps:
      - run: make build
`,
		"cycle": `
jobs:
  a:
    depends_on: [b]
    steps: [{run: "true"}]
  b:
    depends_on: [a]
    steps: [{run: "true"}]
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePipeline([]byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestParseInvalidTimeout(t *testing.T) {
	_, err := ParsePipeline([]byte(`
jobs:
  tests:
    timeout: soon
    steps: [{run: "true"}]
`))
	assert.Error(t, err)
}
