package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
)

const MinHistorySize = 100

type Config struct {
	HistorySize int
	Logger      *zap.Logger
	Tracer      trace.Tracer
	Now         func() time.Time
}

type entry struct {
	op       Operation
	schema   *jsonschema.Schema
	required []string
}

// Registry resolves "<subsystem>.<operation>" to a compiled entry once at
// registration; dispatch is a map lookup.
type Registry struct {
	log    *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu      sync.RWMutex
	servers map[string]map[string]*entry

	history *ring
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("taleweave.ai/internal/tools")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HistorySize < MinHistorySize {
		cfg.HistorySize = MinHistorySize
	}
	return &Registry{
		log:     cfg.Logger,
		tracer:  cfg.Tracer,
		now:     cfg.Now,
		servers: map[string]map[string]*entry{},
		history: newRing(cfg.HistorySize),
	}
}

// Register compiles every operation schema of s. A server name or operation
// name may be registered only once.
func (r *Registry) Register(s Server) error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("register: empty server name")
	}
	ops := make(map[string]*entry, len(s.Operations))
	for _, op := range s.Operations {
		if op.Name == "" {
			return fmt.Errorf("register %s: empty operation name", name)
		}
		if op.Handler == nil {
			return fmt.Errorf("register %s: nil handler", qualified(name, op.Name))
		}
		if _, dup := ops[op.Name]; dup {
			return fmt.Errorf("register %s: duplicate operation", qualified(name, op.Name))
		}
		if op.Params == nil {
			op.Params = Object(nil)
		}
		schema, err := compileSchema(qualified(name, op.Name), op.Params)
		if err != nil {
			return fmt.Errorf("register %s: %w", qualified(name, op.Name), err)
		}
		ops[op.Name] = &entry{op: op, schema: schema, required: requiredFields(op.Params)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.servers[name]; dup {
		return fmt.Errorf("register %s: duplicate server", name)
	}
	r.servers[name] = ops
	return nil
}

func compileSchema(id string, schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	url := "mem://tools/" + id + ".params.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func (r *Registry) lookup(subsystem, operation string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops, ok := r.servers[subsystem]
	if !ok {
		return nil, false
	}
	e, ok := ops[operation]
	return e, ok
}

// Invoke validates params and runs the handler. Every call, successful or
// not, lands in the history ring; errors are always returned to the caller.
func (r *Registry) Invoke(ctx context.Context, subsystem, operation string, params map[string]any) (any, error) {
	ctx, span := r.tracer.Start(ctx, "tools.invoke", trace.WithAttributes(
		attribute.String("tool.subsystem", subsystem),
		attribute.String("tool.operation", operation),
	))
	defer span.End()

	start := r.now()
	res, normalized, err := r.invoke(ctx, subsystem, operation, params)
	dur := r.now().Sub(start)

	inv := Invocation{
		Subsystem: subsystem,
		Operation: operation,
		Params:    normalized,
		Duration:  dur,
		At:        start,
	}
	if err != nil {
		inv.Error = &InvocationError{Code: protocol.CodeOf(err), Message: err.Error()}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("tool invocation failed",
			zap.String("subsystem", subsystem),
			zap.String("operation", operation),
			zap.String("code", inv.Error.Code),
			zap.Duration("duration", dur),
			zap.Error(err))
	} else {
		inv.Result = recordedResult(res)
		r.log.Debug("tool invocation",
			zap.String("subsystem", subsystem),
			zap.String("operation", operation),
			zap.Duration("duration", dur))
	}
	r.history.push(inv)
	return res, err
}

func (r *Registry) invoke(ctx context.Context, subsystem, operation string, params map[string]any) (any, Params, error) {
	e, ok := r.lookup(subsystem, operation)
	if !ok {
		return nil, Params(params), protocol.UnknownOperation(subsystem, operation)
	}
	p, err := normalize(params)
	if err != nil {
		return nil, Params(params), err
	}
	for _, f := range e.required {
		v, present := p[f]
		if !present || v == nil {
			return nil, p, protocol.Validation("%s: missing required parameter %q", qualified(subsystem, operation), f)
		}
	}
	if err := e.schema.Validate(map[string]any(p)); err != nil {
		return nil, p, protocol.Validation("%s: %v", qualified(subsystem, operation), err)
	}
	res, err := e.op.Handler(ctx, p)
	return res, p, err
}

// normalize turns arbitrary Go values into the generic JSON shape the
// schema validator understands.
func normalize(params map[string]any) (Params, error) {
	if params == nil {
		return Params{}, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, protocol.Validation("params are not json: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, protocol.Validation("params are not json: %v", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return Params(out), nil
}

// History returns up to n most recent invocations, oldest first. n<=0 means all retained.
func (r *Registry) History(n int) []Invocation {
	return r.history.last(n)
}

// Descriptor is the public view of one operation.
type Descriptor struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for sname, ops := range r.servers {
		for oname, e := range ops {
			out = append(out, Descriptor{
				Name:         qualified(sname, oname),
				Description:  e.op.Description,
				InputSchema:  e.op.Params,
				OutputSchema: e.op.Returns,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SplitName splits "<subsystem>.<operation>".
func SplitName(name string) (subsystem, operation string, ok bool) {
	i := strings.Index(name, ".")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}
