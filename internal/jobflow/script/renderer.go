// Package script renders the submission scripts of operation bundles with text/template.
package script

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/catalog"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
)

const DefaultTemplate = `#!/bin/bash
# {{ .Label }}
{{- range $key, $value := .Directives }}
# {{ $key }}={{ $value }}
{{- end }}
set -e
{{ range .Commands }}
{{ . }}
{{- end }}
`

// CommandData is passed to the command template of an operation.
type CommandData struct {
	Operation   string
	AggregateId string
	Fingerprint string
	// Ids of the genuine jobs of the aggregate, in order.
	JobIds []string
	// State points of the genuine jobs, in the order of JobIds.
	StatePoints []map[string]interface{}
	Directives  catalog.Directives
}

// ScriptData is passed to the script template.
type ScriptData struct {
	Label string
	// Directives of every instance merged with catalog.MergeDirectives.
	Directives catalog.Directives
	// One rendered command per instance, in bundle order.
	Commands  []string
	Instances []CommandData
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"quote": strconv.Quote,
}

// TemplateRenderer renders each operation's command template and then the script template around them.
type TemplateRenderer struct {
	script *template.Template
}

// NewTemplateRenderer parses text as the script template. An empty text selects DefaultTemplate.
func NewTemplateRenderer(text string) (*TemplateRenderer, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	script, err := template.New("script").Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errors.WithStack(&flowerrors.ErrConfiguration{Name: "submission.template", Value: text, Message: err.Error()})
	}
	return &TemplateRenderer{script: script}, nil
}

func (r *TemplateRenderer) Render(label string, instances []eligibility.Instance) (string, error) {
	data := ScriptData{
		Label:     label,
		Commands:  make([]string, 0, len(instances)),
		Instances: make([]CommandData, 0, len(instances)),
	}
	directives := make([]catalog.Directives, 0, len(instances))
	for _, instance := range instances {
		commandData := newCommandData(instance)
		command, err := renderCommand(instance.Operation, commandData)
		if err != nil {
			return "", err
		}
		data.Commands = append(data.Commands, command)
		data.Instances = append(data.Instances, commandData)
		directives = append(directives, instance.Operation.Directives)
	}
	data.Directives = catalog.MergeDirectives(directives...)

	var out bytes.Buffer
	if err := r.script.Execute(&out, data); err != nil {
		return "", errors.Wrapf(err, "rendering script %s", label)
	}
	return out.String(), nil
}

func newCommandData(instance eligibility.Instance) CommandData {
	members := instance.Aggregate.Members()
	statePoints := make([]map[string]interface{}, len(members))
	for i, job := range members {
		statePoints[i] = job.StatePoint()
	}
	return CommandData{
		Operation:   instance.Operation.Name,
		AggregateId: instance.Aggregate.Id(),
		Fingerprint: instance.Fingerprint,
		JobIds:      instance.Aggregate.JobIds(),
		StatePoints: statePoints,
		Directives:  instance.Operation.Directives.Copy(),
	}
}

func renderCommand(spec *catalog.OperationSpec, data CommandData) (string, error) {
	command, err := template.New(spec.Name).Funcs(funcs).Option("missingkey=error").Parse(spec.Command)
	if err != nil {
		return "", errors.WithStack(&flowerrors.ErrConfiguration{Name: "command", Value: spec.Command, Message: err.Error()})
	}
	var out bytes.Buffer
	if err := command.Execute(&out, data); err != nil {
		return "", errors.Wrapf(err, "rendering command of operation %s for %s", spec.Name, data.AggregateId)
	}
	return strings.TrimSpace(out.String()), nil
}
