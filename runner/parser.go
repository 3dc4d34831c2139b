package runner

import (
	"fmt"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"
)

// Step represents a single command execution within a job
type Step struct {
	Name             string `yaml:"name"`
	Run              string `yaml:"run"`
	WorkingDirectory string `yaml:"working_directory"`
	CacheKey         string `yaml:"cache_key"`
	CachePath        string `yaml:"cache_path"`
	ContinueOnError  bool   `yaml:"continue_on_error"`
}

// Job is a named unit of work composed of ordered steps
type Job struct {
	Name      string   `yaml:"-"`
	Steps     []Step   `yaml:"steps"`
	DependsOn []string `yaml:"depends_on"`
	Required  bool     `yaml:"required"`
	Timeout   Duration `yaml:"timeout"` // zero means no timeout
}

// Duration wraps time.Duration with YAML support for "30s", "5m" etc.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// RefFilter restricts a trigger kind to refs matching any of the given
// glob patterns. An empty list matches every ref.
type RefFilter struct {
	Refs []string `yaml:"refs"`
}

func (f *RefFilter) matches(ref string) bool {
	if len(f.Refs) == 0 {
		return true
	}
	for _, pattern := range f.Refs {
		if ok, err := path.Match(pattern, ref); err == nil && ok {
			return true
		}
	}
	return false
}

// Trigger declares which repository events start a run
type Trigger struct {
	Push        *RefFilter `yaml:"push"`
	PullRequest *RefFilter `yaml:"pull_request"`
}

// Matches reports whether the event qualifies under this trigger.
// A nil trigger accepts every event.
func (t *Trigger) Matches(event TriggerEvent) bool {
	if t == nil {
		return true
	}
	switch event.Kind {
	case EventPush:
		return t.Push != nil && t.Push.matches(event.Ref)
	case EventPullRequest:
		return t.PullRequest != nil && t.PullRequest.matches(event.Ref)
	}
	return false
}

// Pipeline is a parsed pipeline declaration: named jobs with dependencies
// plus an optional trigger filter
type Pipeline struct {
	Name string
	On   *Trigger
	Jobs []Job // declaration order
}

// UnmarshalYAML decodes the jobs mapping by hand so that declaration
// order is preserved; ready-set tie-breaking depends on it.
func (p *Pipeline) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Name string    `yaml:"name"`
		On   *Trigger  `yaml:"on"`
		Jobs yaml.Node `yaml:"jobs"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	p.Name = aux.Name
	p.On = aux.On

	if aux.Jobs.Kind == 0 {
		return nil
	}
	if aux.Jobs.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs must be a mapping of job name to definition")
	}
	for i := 0; i+1 < len(aux.Jobs.Content); i += 2 {
		var job Job
		if err := aux.Jobs.Content[i+1].Decode(&job); err != nil {
			return fmt.Errorf("job %q: %w", aux.Jobs.Content[i].Value, err)
		}
		job.Name = aux.Jobs.Content[i].Value
		p.Jobs = append(p.Jobs, job)
	}
	return nil
}

// LoadPipeline reads and validates a pipeline declaration file
func LoadPipeline(configPath string) (*Pipeline, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline parses YAML content into a validated Pipeline
func ParsePipeline(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// Validate checks the declaration against the invariants the scheduler
// relies on: at least one job, unique names, runnable steps, and an
// acyclic dependency graph.
func (p *Pipeline) Validate() error {
	if len(p.Jobs) == 0 {
		return fmt.Errorf("%w: pipeline declares no jobs", ErrConfiguration)
	}

	seen := make(map[string]bool, len(p.Jobs))
	for _, job := range p.Jobs {
		if job.Name == "" {
			return fmt.Errorf("%w: job with empty name", ErrConfiguration)
		}
		if seen[job.Name] {
			return fmt.Errorf("%w: duplicate job %q", ErrConfiguration, job.Name)
		}
		seen[job.Name] = true

		if len(job.Steps) == 0 {
			return fmt.Errorf("%w: job %q declares no steps", ErrConfiguration, job.Name)
		}
		for i, step := range job.Steps {
			if step.Run == "" {
				return fmt.Errorf("%w: job %q step %d has no command", ErrConfiguration, job.Name, i+1)
			}
			if step.CacheKey != "" && step.CachePath == "" {
				return fmt.Errorf("%w: job %q step %d sets cache_key without cache_path", ErrConfiguration, job.Name, i+1)
			}
		}
	}

	if _, err := ResolveOrder(p.Jobs); err != nil {
		return err
	}
	return nil
}
