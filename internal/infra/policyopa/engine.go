package policyopa

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"auditchain/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const (
	DefaultQuery      = "data.auditchain.access.result"
	defaultModuleName = "access.rego"
)

//go:embed policies/access.rego
var defaultPolicy []byte

type compiledPolicy struct {
	query rego.PreparedEvalQuery
	hash  string
}

// Engine evaluates access decisions against a rego policy. The compiled
// policy can be swapped with Reload while evaluations are in flight.
type Engine struct {
	current atomic.Pointer[compiledPolicy]
	path    string
}

func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return NewEngine(ctx, defaultModuleName, defaultPolicy)
}

func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	engine, err := NewEngine(ctx, filepath.Base(path), source)
	if err != nil {
		return nil, err
	}
	engine.path = path
	return engine, nil
}

func NewEngine(ctx context.Context, name string, source []byte) (*Engine, error) {
	compiled, err := compile(ctx, name, source)
	if err != nil {
		return nil, err
	}
	engine := &Engine{}
	engine.current.Store(compiled)
	return engine, nil
}

// Reload recompiles the policy file the engine was built from. On failure
// the previous policy stays active.
func (e *Engine) Reload(ctx context.Context) error {
	if e == nil || e.path == "" {
		return errors.New("policy engine has no file to reload")
	}
	source, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}
	compiled, err := compile(ctx, filepath.Base(e.path), source)
	if err != nil {
		return err
	}
	e.current.Store(compiled)
	return nil
}

func (e *Engine) Path() string {
	if e == nil {
		return ""
	}
	return e.path
}

func (e *Engine) PolicyHash() string {
	if e == nil {
		return ""
	}
	if compiled := e.current.Load(); compiled != nil {
		return compiled.hash
	}
	return ""
}

func (e *Engine) Evaluate(ctx context.Context, input domain.AccessInput) (domain.AccessDecision, error) {
	if e == nil {
		return domain.AccessDecision{}, errors.New("policy engine is nil")
	}
	compiled := e.current.Load()
	if compiled == nil {
		return domain.AccessDecision{}, errors.New("policy engine not loaded")
	}
	results, err := compiled.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.AccessDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.AccessDecision{}, errors.New("empty policy result")
	}
	decision, err := decodeDecision(results[0].Expressions[0].Value)
	if err != nil {
		return domain.AccessDecision{}, err
	}
	sort.Strings(decision.Deny)
	decision.PolicyHash = compiled.hash
	return decision, nil
}

func compile(ctx context.Context, name string, source []byte) (*compiledPolicy, error) {
	hash, err := ComputePolicyHash(map[string][]byte{name: source})
	if err != nil {
		return nil, err
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(DefaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Module(name, string(source)),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &compiledPolicy{query: prepared, hash: hash}, nil
}

func decodeDecision(value any) (domain.AccessDecision, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.AccessDecision{}, err
	}
	var decision domain.AccessDecision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return domain.AccessDecision{}, fmt.Errorf("decode policy result: %w", err)
	}
	return decision, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
