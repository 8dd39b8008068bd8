package opa

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

const admissionQuery = "data.kidsfeed.admission.decision"

//go:embed admission.rego
var defaultAdmissionPolicy string

// Engine wraps OPA rego engine for admission decisions
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu             sync.RWMutex
	admissionQuery rego.PreparedEvalQuery
	modules        map[string]*ast.Module
}

// NewEngine creates a new OPA engine. An empty policyDir selects the
// built-in admission policy.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "built-in"
	}
	e.logger.Info().Str("policy_dir", source).Msg("OPA engine initialized")

	return e, nil
}

// loadPolicies parses every .rego file in the policy directory
func (e *Engine) loadPolicies() (map[string]*ast.Module, error) {
	modules := make(map[string]*ast.Module)

	if e.policyDir == "" {
		module, err := ast.ParseModule("admission.rego", defaultAdmissionPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to parse built-in policy: %w", err)
		}
		modules["admission.rego"] = module
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.policyDir)
	}
	sort.Strings(files)

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		modules[file] = module
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

// Reload reloads and recompiles the policies. Evaluations in flight keep
// using the previous query.
func (e *Engine) Reload() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(admissionQuery)}
	for _, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
	}
	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare admission query: %w", err)
	}

	e.mu.Lock()
	e.modules = modules
	e.admissionQuery = query
	e.mu.Unlock()

	e.logger.Debug().Int("modules", len(modules)).Msg("Admission query prepared")
	return nil
}

// Packages lists the loaded policy packages.
func (e *Engine) Packages() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	packages := make([]string, 0, len(e.modules))
	for _, module := range e.modules {
		packages = append(packages, module.Package.Path.String())
	}
	sort.Strings(packages)
	return packages
}

// Member is the viewer part of the admission input.
type Member struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Video is the content part of the admission input.
type Video struct {
	ID         string   `json:"id"`
	Platform   string   `json:"platform"`
	Recipients []string `json:"recipients"`
}

// AdmissionDecision is the policy's answer.
type AdmissionDecision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// EvaluateAdmission asks whether member may open video.
func (e *Engine) EvaluateAdmission(ctx context.Context, member Member, video Video) (*AdmissionDecision, error) {
	startTime := time.Now()

	recipients := make([]interface{}, 0, len(video.Recipients))
	for _, r := range video.Recipients {
		recipients = append(recipients, r)
	}
	input := map[string]interface{}{
		"member": map[string]interface{}{
			"id":   member.ID,
			"role": member.Role,
		},
		"video": map[string]interface{}{
			"id":         video.ID,
			"platform":   video.Platform,
			"recipients": recipients,
		},
	}

	e.mu.RLock()
	query := e.admissionQuery
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("admission query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Admission query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, fmt.Errorf("no results from admission query")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal admission decision: %w", err)
	}

	var decision AdmissionDecision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal admission decision: %w", err)
	}

	return &decision, nil
}
