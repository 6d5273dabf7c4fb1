// Package cleaner composes reply extraction, sanitizing and trimming into the
// pipeline that turns a raw body into analyzable text.
package cleaner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/model"
	"github.com/mailsift/mailsift/internal/reply"
	"github.com/mailsift/mailsift/internal/sanitize"
	"github.com/mailsift/mailsift/internal/trim"
)

const (
	StageExtract  = "extract"
	StageSanitize = "sanitize"
	StageTrim     = "trim"

	defaultMaxPasses = 8
)

// ErrUnknownStage is returned for stage names New does not know.
var ErrUnknownStage = errors.New("unknown pipeline stage")

// Stage is one pure text transformation.
type Stage interface {
	Name() string
	Apply(text string) string
}

type stageFunc struct {
	name string
	fn   func(string) string
}

func (s stageFunc) Name() string             { return s.name }
func (s stageFunc) Apply(text string) string { return s.fn(text) }

// NewStage wraps a function as a Stage.
func NewStage(name string, fn func(string) string) Stage {
	return stageFunc{name: name, fn: fn}
}

// Config names the stages to run, in order.
type Config struct {
	Stages  []string
	Profile sanitize.Profile
	Reply   reply.Options
	// MaxPasses bounds how often the stages are re-run while the text keeps
	// changing.
	MaxPasses int
}

func DefaultConfig() Config {
	return Config{
		Stages:    []string{StageExtract, StageSanitize, StageTrim},
		Profile:   sanitize.Unicode,
		Reply:     reply.DefaultOptions(),
		MaxPasses: defaultMaxPasses,
	}
}

// Observer is told how long each stage took.
type Observer func(stage string, d time.Duration)

type Pipeline struct {
	stages    []Stage
	maxPasses int
	observe   Observer
}

// New builds the pipeline described by cfg.
func New(cfg Config) (*Pipeline, error) {
	if len(cfg.Stages) == 0 {
		cfg.Stages = DefaultConfig().Stages
	}
	var stages []Stage
	for _, name := range cfg.Stages {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case StageExtract:
			stages = append(stages, NewStage(StageExtract, reply.New(cfg.Reply).Extract))
		case StageSanitize:
			stages = append(stages, NewStage(StageSanitize, sanitize.New(cfg.Profile).Sanitize))
		case StageTrim:
			stages = append(stages, NewStage(StageTrim, trim.New().Text))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
	}
	return FromStages(cfg.MaxPasses, stages...), nil
}

// FromStages builds a pipeline from arbitrary stages.
func FromStages(maxPasses int, stages ...Stage) *Pipeline {
	if maxPasses <= 0 {
		maxPasses = defaultMaxPasses
	}
	return &Pipeline{stages: stages, maxPasses: maxPasses}
}

// Observe installs a stage timing hook. It must be set before the pipeline is
// shared between goroutines.
func (p *Pipeline) Observe(o Observer) *Pipeline {
	p.observe = o
	return p
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Clean runs the stages over text until the output stops changing, so cleaned
// text is stable under cleaning again.
func (p *Pipeline) Clean(text string) string {
	for pass := 0; pass < p.maxPasses; pass++ {
		next := p.once(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func (p *Pipeline) once(text string) string {
	for _, s := range p.stages {
		start := time.Now()
		text = s.Apply(text)
		if p.observe != nil {
			p.observe(s.Name(), time.Since(start))
		}
	}
	return text
}

// StageError reports a stage that panicked on a message.
type StageError struct {
	Value any
}

func (e *StageError) Error() string {
	return fmt.Sprintf("cleaning stage panicked: %v", e.Value)
}

// CleanMessage turns a raw message into its stored form. A panicking stage
// discards the message and is reported as a *StageError.
func (p *Pipeline) CleanMessage(msg model.RawMessage) (out model.CleanedEmail, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = model.CleanedEmail{}
			err = &StageError{Value: r}
		}
	}()

	body := msg.Body
	if strings.TrimSpace(body) == "" {
		body = msg.HTMLBody
	}

	stream := strings.TrimSpace(msg.Stream)
	if stream == "" {
		stream = model.UnknownStream
	}

	return model.CleanedEmail{
		Subject:    strings.TrimSpace(msg.Subject),
		Content:    p.Clean(body),
		Received:   msg.ReceivedAt.Format(model.DateLayout),
		Stream:     stream,
		PersonName: model.PersonName(msg.Account),
	}, nil
}
