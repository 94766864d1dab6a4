package score

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultScriptTimeout bounds Starlark score evaluation.
const DefaultScriptTimeout = 10 * time.Second

// EvalStarlark runs a Starlark score script and returns the score it builds.
//
// The script calls cue(at) to start a new cue and then the graph builtins
// group, synth, activate, map_input, map_output, set, free, free_all,
// when_done, bus and free_bus, which append to the current cue. Builtins
// that create something return its "$name" reference. A global named
// "name" sets the score name. params is exposed to the script as a dict.
func EvalStarlark(ctx context.Context, filename string, src []byte, params map[string]interface{}, timeout time.Duration) (*Score, error) {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "banga",
		Print: func(*starlark.Thread, string) {},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	b := &scriptBuilder{score: &Score{Name: nameFromPath(filename)}}
	predeclared := b.builtins()
	predeclared["struct"] = starlarkstruct.Default

	if params == nil {
		params = map[string]interface{}{}
	}
	p, err := toStarlarkValue(params)
	if err != nil {
		return nil, fmt.Errorf("failed to convert params: %w", err)
	}
	predeclared["params"] = p

	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		if evalCtx.Err() != nil {
			return nil, fmt.Errorf("starlark execution timeout after %v: %w", timeout, evalCtx.Err())
		}
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("starlark execution failed: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	if name, ok := globals["name"].(starlark.String); ok && name != "" {
		b.score.Name = string(name)
	}
	if err := b.score.Validate(); err != nil {
		return nil, err
	}
	return b.score, nil
}

type scriptBuilder struct {
	score *Score
	anon  int
}

func (b *scriptBuilder) builtins() starlark.StringDict {
	fns := map[string]func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"cue":        b.cue,
		"group":      b.group,
		"synth":      b.synth,
		"activate":   b.nodeOp(OpActivate),
		"set":        b.set,
		"free":       b.nodeOp(OpFree),
		"free_all":   b.freeAll,
		"when_done":  b.whenDone,
		"map_input":  b.mapPort(OpMapInput),
		"map_output": b.mapPort(OpMapOutput),
		"bus":        b.bus,
		"free_bus":   b.freeBus,
	}
	dict := make(starlark.StringDict, len(fns))
	for name, fn := range fns {
		dict[name] = starlark.NewBuiltin(name, fn)
	}
	return dict
}

func (b *scriptBuilder) append(op Op) {
	if len(b.score.Cues) == 0 {
		b.score.Cues = append(b.score.Cues, Cue{})
	}
	c := &b.score.Cues[len(b.score.Cues)-1]
	c.Ops = append(c.Ops, op)
}

func (b *scriptBuilder) name(given string, kind OpKind) string {
	if given != "" {
		return given
	}
	b.anon++
	return fmt.Sprintf("_%s%d", kind, b.anon)
}

func (b *scriptBuilder) cue(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var at starlark.Value
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "at", &at); err != nil {
		return nil, err
	}
	t, ok := starlark.AsFloat(at)
	if !ok {
		return nil, fmt.Errorf("%s: at must be a number, got %s", fn.Name(), at.Type())
	}
	b.score.Cues = append(b.score.Cues, Cue{At: t})
	return starlark.None, nil
}

func (b *scriptBuilder) group(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	op := Op{Kind: OpGroup}
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"target?", &op.Target, "relation?", &op.Relation, "name?", &op.Name); err != nil {
		return nil, err
	}
	op.Name = b.name(op.Name, OpGroup)
	b.append(op)
	return starlark.String(Ref(op.Name)), nil
}

func (b *scriptBuilder) synth(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	op := Op{Kind: OpSynth}
	var controls *starlark.List
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"def", &op.Def, "target?", &op.Target, "relation?", &op.Relation,
		"controls?", &controls, "name?", &op.Name); err != nil {
		return nil, err
	}
	if controls != nil {
		values, err := fromStarlarkValue(controls)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}
		for i, v := range values.([]interface{}) {
			f, err := toFloat32(v)
			if err != nil {
				return nil, fmt.Errorf("%s: control %d: %w", fn.Name(), i, err)
			}
			op.Controls = append(op.Controls, f)
		}
	}
	op.Name = b.name(op.Name, OpSynth)
	b.append(op)
	return starlark.String(Ref(op.Name)), nil
}

func (b *scriptBuilder) nodeOp(kind OpKind) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		op := Op{Kind: kind}
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "node", &op.Node); err != nil {
			return nil, err
		}
		b.append(op)
		return starlark.None, nil
	}
}

func (b *scriptBuilder) set(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	op := Op{Kind: OpSet}
	var value starlark.Value
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"node", &op.Node, "index", &op.Index, "value", &value); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(value)
	if !ok {
		return nil, fmt.Errorf("%s: value must be a number, got %s", fn.Name(), value.Type())
	}
	op.Value = float32(f)
	b.append(op)
	return starlark.None, nil
}

func (b *scriptBuilder) freeAll(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	op := Op{Kind: OpFreeAll}
	var children *starlark.List
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "group", &op.Node, "children?", &children); err != nil {
		return nil, err
	}
	if children != nil {
		values, err := fromStarlarkValue(children)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}
		for _, v := range values.([]interface{}) {
			ref, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: children must be references, got %T", fn.Name(), v)
			}
			op.Children = append(op.Children, ref)
		}
	}
	b.append(op)
	return starlark.None, nil
}

func (b *scriptBuilder) whenDone(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	op := Op{Kind: OpWhenDone}
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "synth", &op.Node, "flags", &op.Flags); err != nil {
		return nil, err
	}
	b.append(op)
	return starlark.None, nil
}

func (b *scriptBuilder) mapPort(kind OpKind) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		op := Op{Kind: kind}
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
			"synth", &op.Node, "index", &op.Index, "bus", &op.Bus, "flags?", &op.Flags); err != nil {
			return nil, err
		}
		b.append(op)
		return starlark.None, nil
	}
}

func (b *scriptBuilder) bus(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	op := Op{Kind: OpBus}
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &op.Name); err != nil {
		return nil, err
	}
	op.Name = b.name(op.Name, OpBus)
	b.append(op)
	return starlark.String(Ref(op.Name)), nil
}

func (b *scriptBuilder) freeBus(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	op := Op{Kind: OpFreeBus}
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "bus", &op.Bus); err != nil {
		return nil, err
	}
	b.append(op)
	return starlark.None, nil
}

func toFloat32(v interface{}) (float32, error) {
	switch n := v.(type) {
	case float64:
		return float32(n), nil
	case int64:
		return float32(n), nil
	}
	return 0, fmt.Errorf("want a number, got %T", v)
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, el := range val {
			item, err := fromStarlarkValue(el)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
